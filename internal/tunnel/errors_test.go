package tunnel

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"ssrtun/internal/pipeline"
)

func TestClassifyPipelineErrMapsCipherStage(t *testing.T) {
	err := classifyPipelineErr(pipeline.ErrCipherStage)
	require.ErrorIs(t, err, ErrInvalidPassword)
}

func TestClassifyPipelineErrMapsObfsDecode(t *testing.T) {
	err := classifyPipelineErr(pipeline.ErrObfsDecode)
	require.ErrorIs(t, err, ErrClientDecode)
}

func TestClassifyPipelineErrMapsProtocolDecode(t *testing.T) {
	err := classifyPipelineErr(pipeline.ErrProtocolDecode)
	require.ErrorIs(t, err, ErrClientPostDecrypt)
}

func TestClassifyPipelineErrPassesThroughUnknown(t *testing.T) {
	other := errors.New("boom")
	err := classifyPipelineErr(other)
	require.Equal(t, other, err)
}

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "i/o timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

var _ net.Error = fakeTimeoutErr{}

func TestClassifyReadErrMapsTimeout(t *testing.T) {
	err := classifyReadErr(fakeTimeoutErr{})
	require.ErrorIs(t, err, ErrTimeout)
}

func TestClassifyReadErrMapsOtherIOError(t *testing.T) {
	err := classifyReadErr(errors.New("connection reset"))
	require.ErrorIs(t, err, ErrIOError)
}
