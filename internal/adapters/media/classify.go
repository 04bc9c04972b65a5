package media

import (
	"errors"
	"io/fs"
	"strings"
	"syscall"

	"github.com/dkeye/VoiceCall/internal/domain"
)

// Classify maps a capture error onto the media failure taxonomy.
func Classify(err error) *domain.MediaError {
	var me *domain.MediaError
	if errors.As(err, &me) {
		return me
	}
	switch {
	case errors.Is(err, fs.ErrPermission),
		errors.Is(err, syscall.EACCES),
		errors.Is(err, syscall.EPERM):
		return domain.NewMediaError(domain.MediaPermissionDenied, err)
	case errors.Is(err, syscall.EBUSY):
		return domain.NewMediaError(domain.MediaDeviceInUse, err)
	case errors.Is(err, fs.ErrNotExist),
		errors.Is(err, syscall.ENODEV),
		errors.Is(err, syscall.ENOENT):
		return domain.NewMediaError(domain.MediaDeviceNotFound, err)
	}

	// Drivers often flatten errno into text.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "not permitted"):
		return domain.NewMediaError(domain.MediaPermissionDenied, err)
	case strings.Contains(msg, "resource busy"), strings.Contains(msg, "in use"):
		return domain.NewMediaError(domain.MediaDeviceInUse, err)
	case strings.Contains(msg, "failed to find"), strings.Contains(msg, "no such device"), strings.Contains(msg, "not found"):
		return domain.NewMediaError(domain.MediaDeviceNotFound, err)
	default:
		return domain.NewMediaError(domain.MediaUnknown, err)
	}
}
