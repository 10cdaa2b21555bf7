package poolsource_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	poolsource "github.com/poolkit/poolsource-go"
)

func TestConnectError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		expectedMsg string
	}{
		{
			name:        "url with password",
			err:         poolsource.NewConnectError("pg", "postgres://app:secret@db:5432/app", errors.New("boom")),
			expectedMsg: "failed to connect to `driver=pg url=postgres://app:xxxxx@db:5432/app`: boom",
		},
		{
			name:        "keyword value with password",
			err:         poolsource.NewConnectError("pg", "host=db password=secret user=app", errors.New("boom")),
			expectedMsg: "failed to connect to `driver=pg url=host=db password=xxxxx user=app`: boom",
		},
		{
			name:        "keyword value with quoted password",
			err:         poolsource.NewConnectError("pg", "host=db password='pass word' user=app", errors.New("boom")),
			expectedMsg: "failed to connect to `driver=pg url=host=db password=xxxxx user=app`: boom",
		},
		{
			name:        "url without password",
			err:         poolsource.NewConnectError("pg", "postgres://app@db/app", errors.New("boom")),
			expectedMsg: "failed to connect to `driver=pg url=postgres://app@db/app`: boom",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.EqualError(t, tt.err, tt.expectedMsg)
		})
	}
}

func TestConnectErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial refused")
	err := poolsource.NewConnectError("pg", "postgres://db/app", cause)

	require.ErrorIs(t, err, cause)

	var connectErr *poolsource.ConnectError
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, "pg", connectErr.DriverName)
	assert.Equal(t, "postgres://db/app", connectErr.URL)
}

func TestFrozenError(t *testing.T) {
	t.Parallel()

	err := &poolsource.FrozenError{Property: "url"}
	assert.EqualError(t, err, "cannot set url: configuration is frozen once a connection has been requested")
}

func TestDriverNotFoundError(t *testing.T) {
	t.Parallel()

	err := &poolsource.DriverNotFoundError{Name: "nope"}
	assert.EqualError(t, err, `unknown driver "nope" (forgotten Register?)`)
}

func TestUnderlyingAccessError(t *testing.T) {
	t.Parallel()

	err := &poolsource.UnderlyingAccessError{ConnID: "c-1"}
	assert.EqualError(t, err, "access to the underlying connection of c-1 is not allowed")
}

func TestRedactURLLeavesOtherKeysAlone(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		"host=db sslmode=disable user=app",
		poolsource.RedactURL("host=db sslmode=disable user=app"))
}
