package gateway

// Localized bot strings. Keys follow the user's stored locale; anything
// unknown falls back to English.
var locales = map[string]map[string]string{
	"en": {
		"greeting":           "🎁 Here you can buy and send gifts to your friends.",
		"open_app":           "Open App",
		"open_gifts":         "Open Gifts",
		"view_gift":          "View Gift",
		"receive_gift":       "Receive Gift",
		"purchase_confirmed": "✅ You purchased <b>%s</b>. Send it to a friend with the button below.",
		"send_gift":          "Send Gift",
		"claim_offer_title":  "Send Gift",
		"send_gift_of":       "Send a gift of %s",
		"claim_offer":        "🎁 I have a <b>gift</b> for you! Tap the button below to open it.",
		"gift_received":      "👌 <b>%s</b> received your gift of <b>%s</b>.",
		"gift_taken":         "🎁 This gift was received.",
		"unknown_code":       "This gift link is not valid.",
		"already_received":   "This gift was already received by someone else.",
		"own_gift":           "You can't receive your own gift.",
	},
	"ru": {
		"greeting":           "🎁 Здесь можно покупать и отправлять подарки друзьям.",
		"open_app":           "Открыть приложение",
		"open_gifts":         "Открыть подарки",
		"view_gift":          "Посмотреть подарок",
		"receive_gift":       "Получить подарок",
		"purchase_confirmed": "✅ Вы купили <b>%s</b>. Отправьте его другу кнопкой ниже.",
		"send_gift":          "Отправить подарок",
		"claim_offer_title":  "Отправить подарок",
		"send_gift_of":       "Отправить подарок «%s»",
		"claim_offer":        "🎁 У меня есть <b>подарок</b> для тебя! Нажми кнопку ниже, чтобы открыть.",
		"gift_received":      "👌 <b>%s</b> получил ваш подарок <b>%s</b>.",
		"gift_taken":         "🎁 Этот подарок уже получен.",
		"unknown_code":       "Эта ссылка на подарок недействительна.",
		"already_received":   "Этот подарок уже получил кто-то другой.",
		"own_gift":           "Нельзя получить собственный подарок.",
	},
}

func tr(locale, key string) string {
	if m, ok := locales[locale]; ok {
		if s, ok := m[key]; ok {
			return s
		}
	}
	return locales["en"][key]
}
