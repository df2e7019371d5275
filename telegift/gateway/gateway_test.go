package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/giftworks/telegift/telegift/database/models"
)

func TestOfferPreview(t *testing.T) {
	cake := &models.Gift{
		Name:  models.LocalizedText{"en": "Delicious Cake", "ru": "Вкусный торт"},
		Image: "delicious-cake",
	}

	t.Run("renders the gift name and art url", func(t *testing.T) {
		g := &Gateway{assetsURL: "https://gifts.example.com"}
		description, thumbnail := g.offerPreview("en", cake)
		assert.Equal(t, "Send a gift of Delicious Cake", description)
		assert.Equal(t, "https://gifts.example.com/assets/gift/delicious-cake.png", thumbnail)
	})

	t.Run("follows the sender's locale", func(t *testing.T) {
		g := &Gateway{assetsURL: "https://gifts.example.com"}
		description, _ := g.offerPreview("ru", cake)
		assert.Equal(t, "Отправить подарок «Вкусный торт»", description)
	})

	t.Run("no assets url means no thumbnail", func(t *testing.T) {
		g := &Gateway{}
		description, thumbnail := g.offerPreview("en", cake)
		assert.Equal(t, "Send a gift of Delicious Cake", description)
		assert.Empty(t, thumbnail)
	})

	t.Run("missing gift renders an empty preview", func(t *testing.T) {
		g := &Gateway{assetsURL: "https://gifts.example.com"}
		description, thumbnail := g.offerPreview("en", nil)
		assert.Empty(t, description)
		assert.Empty(t, thumbnail)
	})
}
