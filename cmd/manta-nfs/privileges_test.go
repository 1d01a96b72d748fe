package main

import (
	"os/user"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDropPrivilegesNoUser(t *testing.T) {
	assert.NoError(t, dropPrivileges("", ""))
}

func TestLookupIDs(t *testing.T) {
	current, err := user.Current()
	require.NoError(t, err)

	uid, gid, err := lookupIDs(current.Username, "")
	require.NoError(t, err)
	assert.Equal(t, current.Uid, strconv.Itoa(uid))
	assert.Equal(t, current.Gid, strconv.Itoa(gid))
}

func TestLookupIDsUnknown(t *testing.T) {
	_, _, err := lookupIDs("no-such-user-manta-nfs", "")
	assert.Error(t, err)

	current, err := user.Current()
	require.NoError(t, err)
	_, _, err = lookupIDs(current.Username, "no-such-group-manta-nfs")
	assert.Error(t, err)
}
