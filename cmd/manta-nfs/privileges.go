package main

import (
	"fmt"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
)

// dropPrivileges switches the process to username and groupname. An empty
// groupname uses the user's primary group; an empty username is a no-op.
//
// It runs once every listener is bound, so the gateway can take port 111
// and then serve as an unprivileged account.
func dropPrivileges(username, groupname string) error {
	if username == "" {
		return nil
	}

	uid, gid, err := lookupIDs(username, groupname)
	if err != nil {
		return err
	}

	// Group first: once the uid changes, setgid is no longer permitted.
	if err := unix.Setgroups([]int{gid}); err != nil {
		return fmt.Errorf("setgroups(%d): %w", gid, err)
	}
	if err := unix.Setgid(gid); err != nil {
		return fmt.Errorf("setgid(%d): %w", gid, err)
	}
	if err := unix.Setuid(uid); err != nil {
		return fmt.Errorf("setuid(%d): %w", uid, err)
	}

	logger.Info("Dropped privileges to %s (uid=%d gid=%d)", username, uid, gid)
	return nil
}

func lookupIDs(username, groupname string) (int, int, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return 0, 0, fmt.Errorf("lookup user %q: %w", username, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, fmt.Errorf("user %q: non-numeric uid %q", username, u.Uid)
	}

	gidStr := u.Gid
	if groupname != "" {
		g, err := user.LookupGroup(groupname)
		if err != nil {
			return 0, 0, fmt.Errorf("lookup group %q: %w", groupname, err)
		}
		gidStr = g.Gid
	}
	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return 0, 0, fmt.Errorf("group %q: non-numeric gid %q", groupname, gidStr)
	}
	return uid, gid, nil
}
