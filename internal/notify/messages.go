package notify

import "fmt"

// User-facing copy, keyed by locale. Internal error detail never appears
// here; it goes to the admin channel only.

func normalizeLocale(locale string) string {
	if locale == "en" {
		return "en"
	}
	return "ru"
}

func InsufficientFunds(locale string) string {
	if normalizeLocale(locale) == "en" {
		return "Not enough credits. Use /buy to top up your balance."
	}
	return "Недостаточно кредитов. Используйте /buy, чтобы пополнить баланс."
}

func OperationFailed(locale string) string {
	if normalizeLocale(locale) == "en" {
		return "Generation failed, our team has been notified. Please try again later."
	}
	return "Не удалось выполнить генерацию, мы уже разбираемся. Попробуйте позже."
}

func OperationSucceeded(locale string, charged, newBalance int64) string {
	if normalizeLocale(locale) == "en" {
		return fmt.Sprintf("Done! Charged %d credits. Balance: %d.", charged, newBalance)
	}
	return fmt.Sprintf("Готово! Списано %d кредитов. Баланс: %d.", charged, newBalance)
}

func OperationStarted(locale string) string {
	if normalizeLocale(locale) == "en" {
		return "Generation started, this can take a couple of minutes."
	}
	return "Генерация началась, это может занять пару минут."
}

func PaymentReceived(locale string, credited, newBalance int64) string {
	if normalizeLocale(locale) == "en" {
		return fmt.Sprintf("Payment received! +%d credits. Balance: %d.", credited, newBalance)
	}
	return fmt.Sprintf("Оплата получена! +%d кредитов. Баланс: %d.", credited, newBalance)
}
