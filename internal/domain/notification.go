package domain

import "strings"

// Notification — нормализованное уведомление платёжного шлюза об исходе транзакции.
// Поля опциональны: шлюзы присылают разные наборы, нормализатор оставляет пустыми
// отсутствующие значения.
type Notification struct {
	// EventID — уникальный идентификатор доставки; ключ дедупликации.
	EventID string
	// SessionID связывает уведомление с ранее созданной checkout-сессией.
	SessionID string
	// TransactionID — идентификатор транзакции на стороне шлюза.
	TransactionID string
	AuthCode      string
	Last4         string
	// ResultCode — числовой код исхода ("00", "05", ...).
	ResultCode string
	// ResultText — текстовый исход ("succeeded", "declined", "0", "1", ...).
	ResultText string
	// Success — явный булев флаг успеха, если шлюз его прислал.
	Success *bool
}

// Коды и текстовые значения, которые шлюзы используют для успешного исхода.
var (
	successResultCodes = map[string]bool{
		"00":  true,
		"0":   true,
		"000": true,
		"100": true,
	}
	successResultTexts = map[string]bool{
		"succeeded": true,
		"success":   true,
		"approved":  true,
		"1":         true,
	}
)

// Successful решает, сообщает ли уведомление об успешном платеже.
// Порядок: явный флаг → код исхода → текстовый исход. Если ни одного сигнала нет,
// но есть transaction id, lenient-политика трактует это как успех (так ведёт себя
// часть шлюзов, не присылающих result-полей при успехе).
func (n Notification) Successful(lenient bool) bool {
	if n.Success != nil {
		return *n.Success
	}
	if n.ResultCode != "" {
		return successResultCodes[n.ResultCode]
	}
	if text := strings.ToLower(strings.TrimSpace(n.ResultText)); text != "" {
		return successResultTexts[text]
	}
	return lenient && n.TransactionID != ""
}

// HasOutcome сообщает, несёт ли уведомление хотя бы один сигнал исхода:
// явный флаг, код, текст или transaction id. Запросы без единого сигнала
// не дают оснований менять состояние сессии.
func (n Notification) HasOutcome() bool {
	if n.Success != nil || n.TransactionID != "" {
		return true
	}
	return n.ResultCode != "" || strings.TrimSpace(n.ResultText) != ""
}

// DedupKey возвращает ключ дедупликации: event id, иначе transaction id.
// Пустая строка означает, что дедуплицировать нечем.
func (n Notification) DedupKey() string {
	if n.EventID != "" {
		return n.EventID
	}
	return n.TransactionID
}
