package pickup

import (
	"fmt"

	"github.com/BearBump/PickupControl/internal/models"
)

// SMSText renders the pickup reminder for a level.
func SMSText(level models.RiskLevel, ttn, orderID string, days int) string {
	order := ""
	if orderID != "" {
		order = fmt.Sprintf(" по заказу %s", orderID)
	}
	switch level {
	case models.RiskD2:
		return fmt.Sprintf("Ваша посылка%s ждёт вас в пункте выдачи. ТТН %s.", order, ttn)
	case models.RiskD5:
		return fmt.Sprintf("Напоминаем: посылка%s ждёт вас уже %d дн. ТТН %s. Заберите её, пожалуйста.", order, days, ttn)
	case models.RiskD7:
		return fmt.Sprintf("Посылка%s лежит в пункте выдачи %d дн. Скоро начнётся платное хранение. ТТН %s.", order, days, ttn)
	case models.RiskCritical:
		return fmt.Sprintf("Последнее напоминание: посылка%s будет возвращена отправителю. ТТН %s. Срочно заберите её.", order, ttn)
	}
	return fmt.Sprintf("Посылка%s ждёт вас в пункте выдачи. ТТН %s.", order, ttn)
}
