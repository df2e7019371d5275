package migration

import "go.mongodb.org/mongo-driver/bson/primitive"

// Document shapes of the legacy MongoDB deployment. Field names follow the
// old collections exactly; conversion to the relational model happens in
// converters.go.

// MongoGift keys on a Mongo ObjectID; the catalog position in "order" is
// unique and becomes the relational id.
type MongoGift struct {
	ID        primitive.ObjectID `bson:"_id"`
	Order     int                `bson:"order"`
	Name      map[string]string  `bson:"name"`
	Image     string             `bson:"image"`
	Color     string             `bson:"color"`
	Animation string             `bson:"anim"`
	Price     float64            `bson:"price"`
	Asset     string             `bson:"asset"`
	Total     int                `bson:"total"`
	Sold      int                `bson:"sold"`
}

// MongoUser keys on the numeric Telegram id directly. The avatar bytes were
// stored inline in the document; only their presence survives the import,
// the refresher re-fetches the actual image.
type MongoUser struct {
	ID        int64            `bson:"_id"`
	FirstName string           `bson:"firstName"`
	LastName  string           `bson:"lastName"`
	Username  string           `bson:"username"`
	Locale    string           `bson:"locale"`
	Theme     string           `bson:"theme"`
	Gifts     int64            `bson:"gifts"`
	Photo     primitive.Binary `bson:"photo"`
	PhotoID   string           `bson:"photoId"`
	PhotoTs   int64            `bson:"photoTs"`
}

// MongoAction references its gift by ObjectID and its counterpart actions by
// the buyId/sendId/receiveId links written during the claim flow.
type MongoAction struct {
	ID         primitive.ObjectID `bson:"_id"`
	Type       string             `bson:"type"`
	UserID     int64              `bson:"userId"`
	GiftID     primitive.ObjectID `bson:"giftId"`
	Date       primitive.DateTime `bson:"date"`
	Code       string             `bson:"code"`
	InvoiceID  int64              `bson:"invoiceId"`
	InlineID   string             `bson:"inlineId"`
	SenderID   int64              `bson:"senderId"`
	ReceiverID int64              `bson:"receiverId"`
	BuyID      primitive.ObjectID `bson:"buyId"`
	SendID     primitive.ObjectID `bson:"sendId"`
	ReceiveID  primitive.ObjectID `bson:"receiveId"`
	Price      float64            `bson:"price"`
	Asset      string             `bson:"asset"`
}

// TableStats tracks per-collection import counts.
type TableStats struct {
	Read    int
	Written int
	Skipped int
}
