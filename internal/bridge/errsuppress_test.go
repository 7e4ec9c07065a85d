package bridge

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestErrSuppressor_FirstOccurrenceLogsImmediately(t *testing.T) {
	s := newErrSuppressor()
	s.report(discardLogger(), "sig-a", errors.New("boom"))
	require.Equal(t, "sig-a", s.signature)
	require.Equal(t, 1, s.count)
}

func TestErrSuppressor_RepeatedIdenticalSignatureIsCountedNotLogged(t *testing.T) {
	s := newErrSuppressor()
	s.report(discardLogger(), "sig-a", errors.New("boom"))
	s.report(discardLogger(), "sig-a", errors.New("boom"))
	s.report(discardLogger(), "sig-a", errors.New("boom"))
	require.Equal(t, 3, s.count)
}

func TestErrSuppressor_DifferentSignatureFlushesAndStartsNewWindow(t *testing.T) {
	s := newErrSuppressor()
	s.report(discardLogger(), "sig-a", errors.New("boom"))
	s.report(discardLogger(), "sig-a", errors.New("boom"))
	s.report(discardLogger(), "sig-b", errors.New("different"))
	require.Equal(t, "sig-b", s.signature)
	require.Equal(t, 1, s.count)
}

func TestErrSuppressor_WindowExpiryStartsNewWindowForSameSignature(t *testing.T) {
	s := newErrSuppressor()
	s.report(discardLogger(), "sig-a", errors.New("boom"))
	s.windowStart = time.Now().Add(-2 * errSuppressWindow)
	s.report(discardLogger(), "sig-a", errors.New("boom"))
	require.Equal(t, 1, s.count)
}

func TestErrSuppressor_FlushResetsState(t *testing.T) {
	s := newErrSuppressor()
	s.report(discardLogger(), "sig-a", errors.New("boom"))
	s.report(discardLogger(), "sig-a", errors.New("boom"))
	s.flush(discardLogger())
	require.Equal(t, "", s.signature)
	require.Equal(t, 0, s.count)
}
