package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/giftworks/telegift/telegift/database/models"
	"github.com/giftworks/telegift/telegift/database/repositories"
)

// In-memory repositories with the same conditional-write semantics as the
// Postgres implementations. The mutex makes each method atomic, which is
// exactly the guarantee a single UPDATE statement gives.

type fakeGiftRepo struct {
	mu    sync.Mutex
	gifts map[int64]*models.Gift
}

func newFakeGiftRepo(gifts ...*models.Gift) *fakeGiftRepo {
	r := &fakeGiftRepo{gifts: make(map[int64]*models.Gift)}
	for _, g := range gifts {
		r.gifts[g.ID] = g
	}
	return r
}

func (r *fakeGiftRepo) GetAll(ctx context.Context) ([]*models.Gift, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Gift, 0, len(r.gifts))
	for _, g := range r.gifts {
		cp := *g
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeGiftRepo) GetByID(ctx context.Context, id int64) (*models.Gift, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gifts[id]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (r *fakeGiftRepo) ReserveUnit(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gifts[id]
	if !ok || g.SoldCount >= g.TotalSupply {
		return false, nil
	}
	g.SoldCount++
	return true, nil
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[int64]*models.User
}

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	r := &fakeUserRepo{users: make(map[int64]*models.User)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeUserRepo) Upsert(ctx context.Context, user *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.users[user.ID]; ok {
		existing.FirstName = user.FirstName
		existing.LastName = user.LastName
		existing.Username = user.Username
		cp := *existing
		return &cp, nil
	}
	cp := *user
	r.users[user.ID] = &cp
	out := cp
	return &out, nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) GetTopUsers(ctx context.Context, limit int) ([]*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.User, 0, len(r.users))
	for _, u := range r.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GiftsReceived != out[j].GiftsReceived {
			return out[i].GiftsReceived > out[j].GiftsReceived
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeUserRepo) CountRankedAbove(ctx context.Context, giftsReceived int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.users {
		if u.GiftsReceived > giftsReceived {
			n++
		}
	}
	return n, nil
}

func (r *fakeUserRepo) SearchByName(ctx context.Context, pattern string, offset, limit int) ([]*models.User, error) {
	return r.GetTopUsers(ctx, limit)
}

func (r *fakeUserRepo) IncrementGiftsReceived(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.GiftsReceived++
	}
	return nil
}

func (r *fakeUserRepo) UpdateSettings(ctx context.Context, id int64, theme, locale *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil
	}
	if theme != nil {
		u.Theme = *theme
	}
	if locale != nil {
		u.Locale = *locale
	}
	return nil
}

func (r *fakeUserRepo) ClaimPhotoRefresh(ctx context.Context, id int64, observed time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || !u.PhotoRefreshedAt.Equal(observed) {
		return false, nil
	}
	u.PhotoRefreshedAt = time.Now()
	return true, nil
}

func (r *fakeUserRepo) SetPhoto(ctx context.Context, id int64, fileID string, hasPhoto bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.PhotoFileID = fileID
		u.HasPhoto = hasPhoto
	}
	return nil
}

func (r *fakeUserRepo) ListStalePhotos(ctx context.Context, olderThan time.Time, limit int) ([]*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.User
	for _, u := range r.users {
		if u.PhotoRefreshedAt.Before(olderThan) && len(out) < limit {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeActionRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*models.Action
	gifts  map[int64]*models.Gift
}

// newFakeActionRepo optionally takes the catalog so claimable lookups can
// mirror the Gift join the real queries perform.
func newFakeActionRepo(gifts ...*models.Gift) *fakeActionRepo {
	r := &fakeActionRepo{
		rows:  make(map[int64]*models.Action),
		gifts: make(map[int64]*models.Gift),
	}
	for _, g := range gifts {
		r.gifts[g.ID] = g
	}
	return r
}

func (r *fakeActionRepo) withGiftLocked(a *models.Action) *models.Action {
	cp := *a
	cp.Gift = r.gifts[a.GiftID]
	return &cp
}

func (r *fakeActionRepo) insertLocked(a *models.Action) {
	r.nextID++
	a.ID = r.nextID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	cp := *a
	r.rows[a.ID] = &cp
}

func (r *fakeActionRepo) CreateInvoice(ctx context.Context, action *models.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	action.Kind = models.ActionInvoice
	r.insertLocked(action)
	return nil
}

func (r *fakeActionRepo) PromoteInvoice(ctx context.Context, invoiceExternalID, claimCode string) (*models.Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.rows {
		if a.Kind == models.ActionInvoice && a.InvoiceExternalID == invoiceExternalID {
			a.Kind = models.ActionPurchase
			a.ClaimCode = claimCode
			a.State = models.PurchaseHeld
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeActionRepo) GetByID(ctx context.Context, id int64) (*models.Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *fakeActionRepo) GetPurchaseByCode(ctx context.Context, code string) (*models.Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.rows {
		if a.Kind == models.ActionPurchase && a.ClaimCode == code {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeActionRepo) FindClaimableByCode(ctx context.Context, code string) (*models.Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.rows {
		if a.Kind == models.ActionPurchase && a.ClaimCode == code &&
			a.State == models.PurchaseHeld && a.DeliveryMessageRef == "" {
			return r.withGiftLocked(a), nil
		}
	}
	return nil, nil
}

func (r *fakeActionRepo) ClaimPurchase(ctx context.Context, purchaseID, receiverID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[purchaseID]
	if !ok || a.Kind != models.ActionPurchase || a.State != models.PurchaseHeld {
		return false, nil
	}
	a.State = models.PurchaseClaimed
	a.ReceiverID = receiverID
	return true, nil
}

func (r *fakeActionRepo) CompleteTransfer(ctx context.Context, purchaseID int64, send, receive *models.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	send.Kind = models.ActionSend
	send.PurchaseActionID = purchaseID
	r.insertLocked(send)
	receive.Kind = models.ActionReceive
	receive.PurchaseActionID = purchaseID
	receive.SendActionID = send.ID
	r.insertLocked(receive)
	send.ReceiveActionID = receive.ID
	r.rows[send.ID].ReceiveActionID = receive.ID
	if p, ok := r.rows[purchaseID]; ok {
		p.SendActionID = send.ID
		p.ReceiveActionID = receive.ID
	}
	return nil
}

func (r *fakeActionRepo) SetDeliveryMessage(ctx context.Context, purchaseID int64, ref string) (*models.Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[purchaseID]
	if !ok || a.Kind != models.ActionPurchase || a.State != models.PurchaseHeld || a.DeliveryMessageRef != "" {
		return nil, nil
	}
	a.DeliveryMessageRef = ref
	cp := *a
	return &cp, nil
}

func (r *fakeActionRepo) listLocked(match func(*models.Action) bool, offset int) []*models.Action {
	var out []*models.Action
	for _, a := range r.rows {
		if match(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if len(out) > repositories.PageSize {
		out = out[:repositories.PageSize]
	}
	return out
}

func (r *fakeActionRepo) ListHeldByUser(ctx context.Context, userID int64, offset int) ([]*models.Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.listLocked(func(a *models.Action) bool {
		return a.Kind == models.ActionPurchase && a.State == models.PurchaseHeld &&
			a.UserID == userID && a.DeliveryMessageRef == ""
	}, offset)
	for i, a := range out {
		out[i] = r.withGiftLocked(a)
	}
	return out, nil
}

func (r *fakeActionRepo) ListReceivedByUser(ctx context.Context, userID int64, offset int) ([]*models.Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(func(a *models.Action) bool {
		return a.Kind == models.ActionReceive && a.UserID == userID
	}, offset), nil
}

func (r *fakeActionRepo) ListActivityByUser(ctx context.Context, userID int64, offset int) ([]*models.Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(func(a *models.Action) bool {
		return a.UserID == userID || a.ReceiverID == userID
	}, offset), nil
}

func (r *fakeActionRepo) ListByGift(ctx context.Context, giftID int64, offset int) ([]*models.Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(func(a *models.Action) bool {
		return a.GiftID == giftID && (a.Kind == models.ActionPurchase || a.Kind == models.ActionSend)
	}, offset), nil
}

func (r *fakeActionRepo) FindUnlinkedClaimed(ctx context.Context, limit int) ([]*models.Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Action
	for _, a := range r.rows {
		if a.Kind == models.ActionPurchase && a.State == models.PurchaseClaimed &&
			a.ReceiveActionID == 0 && len(out) < limit {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

var _ repositories.GiftRepository = (*fakeGiftRepo)(nil)
var _ repositories.UserRepository = (*fakeUserRepo)(nil)
var _ repositories.ActionRepository = (*fakeActionRepo)(nil)
