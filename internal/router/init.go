package router

import (
	"github.com/oksasatya/profile-service/internal/application"
	"github.com/oksasatya/profile-service/internal/container"
	pginfra "github.com/oksasatya/profile-service/internal/infrastructure/postgres"
	handlers "github.com/oksasatya/profile-service/internal/interface/http"
	"github.com/oksasatya/profile-service/internal/router/modules"
	"github.com/oksasatya/profile-service/pkg/helpers"
	"github.com/oksasatya/profile-service/pkg/mailer/templates"
)

type ProfileModuleDeps struct {
	Profiles *application.ProfileService
	Avatars  *application.AvatarService
	Handler  *handlers.UserHandler
}

func buildProfileDeps() ProfileModuleDeps {
	cfg := container.GetConfig()
	logger := container.GetLogger()
	store := container.GetAvatarStore()

	repo := pginfra.NewAccountRepository(container.GetPGPool())

	sync := &application.ProfileSync{
		Redis:       container.GetRedis(),
		CacheTTL:    cfg.ProfileCacheTTL,
		ES:          container.GetES(),
		ESIndex:     cfg.ESUsersIndex,
		MailEnabled: cfg.MailSendEnabled,
		Brand: templates.Brand{
			AppName:     cfg.AppName,
			CompanyName: cfg.CompanyName,
			SupportURL:  cfg.SupportURL,
		},
		AvatarURL: store.URL,
		Logger:    logger,
	}
	if pub := container.GetRabbitPub(); pub != nil {
		sync.Publisher = pub
	}

	profiles := application.NewProfileService(repo, helpers.BcryptHasher{}, sync, container.GetRedis(), cfg.ProfileCacheTTL, logger)
	avatars := application.NewAvatarService(repo, store, cfg.AvatarMaxBytes, sync, logger)
	handler := handlers.NewUserHandler(profiles, avatars, logger, cfg.AvatarMaxBytes)

	return ProfileModuleDeps{
		Profiles: profiles,
		Avatars:  avatars,
		Handler:  handler,
	}
}

// InitModules wires every module from the container and adds it to r.
// Call once at start-up, after the container is populated.
func InitModules(r *Registry) {
	cfg := container.GetConfig()

	var db modules.Pinger
	if pool := container.GetPGPool(); pool != nil {
		db = pool
	}
	r.AddRoot(modules.NewSystemModule(cfg.AppName, cfg.AppVersion, db, container.GetRedis()))

	deps := buildProfileDeps()
	r.Add(modules.NewProfileModule(deps.Handler, container.GetRedis(), container.GetJWT()))

	if cfg.DebugMetricsEnabled {
		r.Add(modules.NewDebugModule(container.GetRedis()))
	}
}
