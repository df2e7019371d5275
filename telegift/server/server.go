// Package server is the HTTP surface of the mini app: a Fiber API guarded by
// Telegram init-data auth, plus the payment provider's webhook.
package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/giftworks/telegift/telegift/database/repositories"
	"github.com/giftworks/telegift/telegift/ledger"
	"github.com/giftworks/telegift/telegift/payment"
	"github.com/giftworks/telegift/telegift/services"
)

// Notifier delivers ledger intents to the messenger. The gateway implements
// it; tests plug in a recorder.
type Notifier interface {
	Deliver(ctx context.Context, intents []ledger.Intent)
}

// Deps collects everything the server needs. Optional fields (search,
// avatars, notifier) may be nil and the affected routes degrade gracefully.
type Deps struct {
	BotToken string

	Users    repositories.UserRepository
	Queries  *ledger.Queries
	Workflow *ledger.InvoiceWorkflow
	Transfer *ledger.Transfer
	Search   *services.UserSearch
	Payments *payment.Client
	Avatars  *services.AvatarStorage
	Notifier Notifier
}

type Server struct {
	app      *fiber.App
	botToken string

	users    repositories.UserRepository
	queries  *ledger.Queries
	workflow *ledger.InvoiceWorkflow
	transfer *ledger.Transfer
	search   *services.UserSearch
	payments *payment.Client
	avatars  *services.AvatarStorage
	notifier Notifier
}

func New(deps Deps) *Server {
	s := &Server{
		botToken: deps.BotToken,
		users:    deps.Users,
		queries:  deps.Queries,
		workflow: deps.Workflow,
		transfer: deps.Transfer,
		search:   deps.Search,
		payments: deps.Payments,
		avatars:  deps.Avatars,
		notifier: deps.Notifier,
	}

	app := fiber.New(fiber.Config{
		AppName:      "Telegift API",
		ServerHeader: "Telegift",
	})

	app.Use(recover.New())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))
	app.Use(RequestLogging())

	s.app = app
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", HealthCheck())
	s.app.Post("/cryptopay", PaymentWebhook(s))
	s.app.Get("/user/:id/photo.jpg", UsersPhoto(s))

	api := s.app.Group("/api", AuthRequired(s))
	api.Get("/init", Bootstrap(s))
	api.Get("/gifts", GiftsList(s))
	api.Get("/gifts/:id", GiftsDetail(s))
	api.Get("/gifts/:id/history", GiftsHistory(s))
	api.Post("/gifts/:id/buy", GiftsBuy(s))
	api.Post("/claim", GiftsClaim(s))
	api.Get("/leaderboard", Leaderboard(s))
	api.Get("/users/:id", UsersDetail(s))
	api.Get("/users/:id/gifts", UsersGifts(s))
	api.Get("/me/inventory", MyInventory(s))
	api.Get("/me/activity", MyActivity(s))
	api.Get("/search", SearchUsers(s))
	api.Post("/settings", UpdateSettings(s))
}

// App exposes the underlying Fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen blocks serving on addr.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	deadline := 15 * time.Second
	if d, ok := ctx.Deadline(); ok {
		deadline = time.Until(d)
	}
	return s.app.ShutdownWithTimeout(deadline)
}
