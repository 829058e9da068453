//go:build !windows

package process

import (
	"os/exec"
	"os/user"
	"strconv"
	"syscall"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
)

// setupProcessAttributes configures Unix-specific process attributes
func setupProcessAttributes(cmd *exec.Cmd, credential *syscall.Credential) {
	// On Unix, create a new process group that we can signal as a whole,
	// so SIGTERM to -pid reaches the entire process tree
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:    true,
		Credential: credential,
	}
}

// resolveCredential maps a user and group, by name or numeric ID, to a
// process credential. Both empty means run as the supervisor's own user.
// A user without a group runs with the user's primary group.
func resolveCredential(userName, groupName string) (*syscall.Credential, error) {
	if userName == "" && groupName == "" {
		return nil, nil
	}

	uid := uint32(syscall.Getuid())
	gid := uint32(syscall.Getgid())

	if userName != "" {
		u, err := lookupUser(userName)
		if err != nil {
			return nil, err
		}
		if uid, err = parseID(u.Uid); err != nil {
			return nil, err
		}
		if gid, err = parseID(u.Gid); err != nil {
			return nil, err
		}
	}

	if groupName != "" {
		g, err := lookupGroup(groupName)
		if err != nil {
			return nil, err
		}
		if gid, err = parseID(g.Gid); err != nil {
			return nil, err
		}
	}

	return &syscall.Credential{Uid: uid, Gid: gid}, nil
}

func lookupUser(name string) (*user.User, error) {
	if u, err := user.Lookup(name); err == nil {
		return u, nil
	}
	u, err := user.LookupId(name)
	if err != nil {
		return nil, errors.NewNotFoundError("unknown user: "+name, err)
	}
	return u, nil
}

func lookupGroup(name string) (*user.Group, error) {
	if g, err := user.LookupGroup(name); err == nil {
		return g, nil
	}
	g, err := user.LookupGroupId(name)
	if err != nil {
		return nil, errors.NewNotFoundError("unknown group: "+name, err)
	}
	return g, nil
}

func parseID(id string) (uint32, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, errors.NewValidationError("invalid numeric ID: "+id, err)
	}
	return uint32(n), nil
}
