// Package migration imports the legacy MongoDB deployment into Postgres.
// One-shot tooling: it reads the old collections straight from a live Mongo
// instance, converts documents and bulk-inserts them, then rebuilds the
// purchase/send/receive cross-links the document model never stored
// explicitly.
package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/giftworks/telegift/telegift/database/models"
)

type Migrator struct {
	pgDB      *bun.DB
	mongoDB   *mongo.Database
	batchSize int

	// giftIDs maps legacy gift ObjectIDs to the relational ids assigned
	// during the gifts step; the actions step resolves references with it.
	giftIDs map[primitive.ObjectID]int64
	stats   map[string]*TableStats
}

func NewMigrator(pgDB *bun.DB, mongoClient *mongo.Client, mongoDBName string) *Migrator {
	return &Migrator{
		pgDB:      pgDB,
		mongoDB:   mongoClient.Database(mongoDBName),
		batchSize: 1000,
		giftIDs:   make(map[primitive.ObjectID]int64),
		stats:     make(map[string]*TableStats),
	}
}

// SetBatchSize overrides the default insert batch size.
func (m *Migrator) SetBatchSize(size int) {
	if size > 0 {
		m.batchSize = size
	}
}

// MigrateAll runs every import step in dependency order.
func (m *Migrator) MigrateAll(ctx context.Context) error {
	start := time.Now()

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"gifts", m.migrateGifts},
		{"users", m.migrateUsers},
		{"actions", m.migrateActions},
		{"links", m.rebuildLinks},
	}
	for _, s := range steps {
		slog.Info("migration step starting", slog.String("step", s.name))
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("migration failed at step %s: %w", s.name, err)
		}
		slog.Info("migration step completed", slog.String("step", s.name))
	}

	for table, st := range m.stats {
		slog.Info("migration stats",
			slog.String("table", table),
			slog.Int("read", st.Read),
			slog.Int("written", st.Written),
			slog.Int("skipped", st.Skipped))
	}
	slog.Info("migration completed", slog.Duration("took", time.Since(start)))
	return nil
}

func (m *Migrator) table(name string) *TableStats {
	st, ok := m.stats[name]
	if !ok {
		st = &TableStats{}
		m.stats[name] = st
	}
	return st
}

func (m *Migrator) migrateGifts(ctx context.Context) error {
	st := m.table("gifts")
	cur, err := m.mongoDB.Collection("gifts").Find(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("querying gifts: %w", err)
	}
	defer cur.Close(ctx)

	var batch []*models.Gift
	for cur.Next(ctx) {
		var mg MongoGift
		if err := cur.Decode(&mg); err != nil {
			st.Skipped++
			continue
		}
		st.Read++
		batch = append(batch, m.convertGift(mg))
		if len(batch) >= m.batchSize {
			if err := m.insertGifts(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := cur.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return m.insertGifts(ctx, batch)
	}
	return nil
}

func (m *Migrator) insertGifts(ctx context.Context, gifts []*models.Gift) error {
	res, err := m.pgDB.NewInsert().
		Model(&gifts).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("inserting gifts: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		m.table("gifts").Written += int(n)
	}
	return nil
}

func (m *Migrator) migrateUsers(ctx context.Context) error {
	st := m.table("users")
	cur, err := m.mongoDB.Collection("users").Find(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("querying users: %w", err)
	}
	defer cur.Close(ctx)

	var batch []*models.User
	for cur.Next(ctx) {
		var mu MongoUser
		if err := cur.Decode(&mu); err != nil || mu.ID == 0 {
			st.Skipped++
			continue
		}
		st.Read++
		batch = append(batch, m.convertUser(mu))
		if len(batch) >= m.batchSize {
			if err := m.insertUsers(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := cur.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return m.insertUsers(ctx, batch)
	}
	return nil
}

func (m *Migrator) insertUsers(ctx context.Context, users []*models.User) error {
	res, err := m.pgDB.NewInsert().
		Model(&users).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("inserting users: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		m.table("users").Written += int(n)
	}
	return nil
}

func (m *Migrator) migrateActions(ctx context.Context) error {
	st := m.table("actions")
	// Oldest first so autoincrement ids preserve the ledger order.
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}})
	cur, err := m.mongoDB.Collection("actions").Find(ctx, bson.D{}, opts)
	if err != nil {
		return fmt.Errorf("querying actions: %w", err)
	}
	defer cur.Close(ctx)

	var batch []*models.Action
	for cur.Next(ctx) {
		var ma MongoAction
		if err := cur.Decode(&ma); err != nil {
			st.Skipped++
			continue
		}
		action := m.convertAction(ma)
		if action == nil {
			st.Skipped++
			continue
		}
		st.Read++
		batch = append(batch, action)
		if len(batch) >= m.batchSize {
			if err := m.insertActions(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := cur.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return m.insertActions(ctx, batch)
	}
	return nil
}

func (m *Migrator) insertActions(ctx context.Context, actions []*models.Action) error {
	res, err := m.pgDB.NewInsert().
		Model(&actions).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("inserting actions: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		m.table("actions").Written += int(n)
	}
	return nil
}

// rebuildLinks connects each claimed purchase to its send/receive pair. The
// legacy documents only shared the claim code, so the pair is matched on
// (gift, buyer, receiver) with the code carried by the purchase.
func (m *Migrator) rebuildLinks(ctx context.Context) error {
	_, err := m.pgDB.ExecContext(ctx, `
		UPDATE actions p SET
			send_action_id = s.id,
			receive_action_id = r.id
		FROM actions s, actions r
		WHERE p.kind = 'purchase' AND p.state = 'claimed'
		  AND s.kind = 'send' AND s.gift_id = p.gift_id
		  AND s.user_id = p.user_id AND s.receiver_id = p.receiver_id
		  AND r.kind = 'receive' AND r.gift_id = p.gift_id
		  AND r.user_id = p.receiver_id AND r.sender_id = p.user_id
		  AND p.send_action_id IS NULL`)
	if err != nil {
		return fmt.Errorf("rebuilding purchase links: %w", err)
	}

	_, err = m.pgDB.ExecContext(ctx, `
		UPDATE actions s SET
			purchase_action_id = p.id,
			receive_action_id = p.receive_action_id
		FROM actions p
		WHERE s.kind = 'send' AND p.kind = 'purchase'
		  AND p.send_action_id = s.id AND s.purchase_action_id IS NULL`)
	if err != nil {
		return fmt.Errorf("rebuilding send links: %w", err)
	}

	_, err = m.pgDB.ExecContext(ctx, `
		UPDATE actions r SET
			purchase_action_id = p.id,
			send_action_id = p.send_action_id
		FROM actions p
		WHERE r.kind = 'receive' AND p.kind = 'purchase'
		  AND p.receive_action_id = r.id AND r.purchase_action_id IS NULL`)
	if err != nil {
		return fmt.Errorf("rebuilding receive links: %w", err)
	}
	return nil
}
