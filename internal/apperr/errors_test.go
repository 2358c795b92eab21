package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		NotFound:         http.StatusNotFound,
		AlreadyExists:    http.StatusConflict,
		Conflict:         http.StatusConflict,
		PreconditionFail: http.StatusPreconditionFailed,
		InvalidArgument:  http.StatusBadRequest,
		Internal:         http.StatusInternalServerError,
	}
	for kind, want := range cases {
		require.Equal(t, want, New(kind, "x").HTTPStatus(), "kind %s", kind)
	}
}

func TestHTTPStatusOf_NonAppErrorIs500(t *testing.T) {
	require.Equal(t, http.StatusInternalServerError, HTTPStatusOf(errors.New("plain")))
}

func TestAs_UnwrapsThroughFmtErrorf(t *testing.T) {
	inner := NotFoundf("workspace", "a")
	wrapped := fmt.Errorf("starting workspace: %w", inner)

	appErr, ok := As(wrapped)
	require.True(t, ok)
	require.Equal(t, NotFound, appErr.Kind)
	require.True(t, IsNotFound(wrapped))
	require.Equal(t, http.StatusNotFound, HTTPStatusOf(wrapped))
}

func TestContainerErrorfCarriesExitAndStreams(t *testing.T) {
	err := ContainerErrorf(125, "out", "no such container: x", []string{"docker", "start", "x"})
	require.Equal(t, ContainerError, err.Kind)
	require.Equal(t, 125, err.ExitCode)
	require.Equal(t, "out", err.Stdout)
	require.Contains(t, err.Stderr, "no such container")
	require.Contains(t, err.Error(), "125")
}
