package application

import (
	"expvar"

	"github.com/oksasatya/profile-service/internal/domain/entity"
)

// stats is published under "profile" on /debug/vars.
var stats = expvar.NewMap("profile")

const (
	statConflicts             = "conflicts"
	statPasswordMismatches    = "password_mismatches"
	statAvatarUploads         = "avatar_uploads"
	statAvatarRejected        = "avatar_rejected"
	statAvatarCleanupFailures = "avatar_cleanup_failures"
)

func countConflict(err error) {
	if _, ok := entity.IsConflict(err); ok {
		stats.Add(statConflicts, 1)
	}
}
