package telegift

import (
	"context"

	"github.com/giftworks/telegift/telegift/database"
	"github.com/giftworks/telegift/telegift/database/repositories"
	"github.com/giftworks/telegift/telegift/gateway"
	"github.com/giftworks/telegift/telegift/ledger"
	"github.com/giftworks/telegift/telegift/payment"
	"github.com/giftworks/telegift/telegift/server"
	"github.com/giftworks/telegift/telegift/services"
)

// App wires the whole service together: repositories over one database
// handle, the ledger on top of them, and the two edges (Telegram gateway and
// HTTP API) on top of the ledger.
type App struct {
	Cfg     Config
	Version string
	Commit  string

	DB *database.DB

	GiftRepository   repositories.GiftRepository
	UserRepository   repositories.UserRepository
	ActionRepository repositories.ActionRepository

	Inventory *ledger.Inventory
	Workflow  *ledger.InvoiceWorkflow
	Transfer  *ledger.Transfer
	Queries   *ledger.Queries
	Checker   *ledger.ConsistencyChecker

	Payments *payment.Client
	Avatars  *services.AvatarStorage
	Search   *services.UserSearch
	Refresh  *services.PhotoRefresher

	Gateway *gateway.Gateway
	Server  *server.Server
}

func New(cfg Config, version, commit string) *App {
	return &App{Cfg: cfg, Version: version, Commit: commit}
}

// Setup builds every component on top of an already connected database.
func (a *App) Setup() error {
	bun := a.DB.BunDB()
	a.GiftRepository = repositories.NewGiftRepository(bun)
	a.UserRepository = repositories.NewUserRepository(bun)
	a.ActionRepository = repositories.NewActionRepository(bun)

	a.Payments = payment.NewClient(a.Cfg.Payment.URL, a.Cfg.Payment.Token)

	a.Inventory = ledger.NewInventory(a.GiftRepository)
	a.Workflow = ledger.NewInvoiceWorkflow(a.ActionRepository, a.UserRepository, a.Inventory, a.Payments)
	a.Transfer = ledger.NewTransfer(a.ActionRepository, a.UserRepository)
	a.Queries = ledger.NewQueries(a.GiftRepository, a.UserRepository, a.ActionRepository)
	a.Checker = ledger.NewConsistencyChecker(a.ActionRepository, 0)

	a.Search = services.NewUserSearch(a.UserRepository)

	if a.Cfg.Spaces.Key != "" {
		avatars, err := services.NewAvatarStorage(
			a.Cfg.Spaces.Key,
			a.Cfg.Spaces.Secret,
			a.Cfg.Spaces.Region,
			a.Cfg.Spaces.Bucket,
			a.Cfg.Spaces.AvatarRoot,
		)
		if err != nil {
			return err
		}
		a.Avatars = avatars
	}

	gw, err := gateway.New(
		a.Cfg.Telegram.Token,
		a.Cfg.Telegram.Username,
		a.Cfg.Telegram.AppName,
		a.Cfg.Server.AssetsURL,
		a.UserRepository,
		a.Queries,
		a.Transfer,
	)
	if err != nil {
		return err
	}
	a.Gateway = gw
	a.Refresh = services.NewPhotoRefresher(a.UserRepository, gw, a.Avatars)

	a.Server = server.New(server.Deps{
		BotToken: a.Cfg.Telegram.Token,
		Users:    a.UserRepository,
		Queries:  a.Queries,
		Workflow: a.Workflow,
		Transfer: a.Transfer,
		Search:   a.Search,
		Payments: a.Payments,
		Avatars:  a.Avatars,
		Notifier: gw,
	})
	return nil
}

// StartBackground launches the periodic workers; they stop with ctx.
func (a *App) StartBackground(ctx context.Context) {
	go a.Checker.Start(ctx)
	go a.Refresh.Start(ctx, services.PhotoTTL)
}
