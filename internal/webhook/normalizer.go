package webhook

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/vladislavdragonenkov/paybridge/internal/domain"
)

// Шлюзы присылают одни и те же поля под разными именами (дефисы, camelCase,
// сокращения). Вместо разбросанных по коду условий вся вариативность собрана
// в одну alias-таблицу; ключи источников приводятся к нижнему регистру перед
// поиском, поэтому camelCase-варианты здесь записаны строчными.
var fieldAliases = map[string][]string{
	"session":     {"session_id", "session-id", "sessionid", "session", "checkout_session_id", "checkoutsessionid", "checkout-session-id"},
	"event":       {"event_id", "event-id", "eventid", "notification_id", "notificationid", "notification-id", "webhook_id", "webhookid"},
	"transaction": {"transaction_id", "transaction-id", "transactionid", "txn_id", "txnid", "tx_id", "txid", "payment_id", "paymentid"},
	"auth":        {"auth_code", "auth-code", "authcode", "authorization_code", "authorizationcode", "approval_code", "approvalcode"},
	"last4":       {"last4", "last_4", "last-4", "card_last4", "cardlast4"},
	"masked":      {"masked_card", "maskedcard", "masked-card", "masked_pan", "maskedpan", "card_number", "cardnumber"},
	"resultcode":  {"result_code", "result-code", "resultcode", "response_code", "responsecode", "response-code"},
	"resulttext":  {"result", "status", "outcome", "payment_status", "paymentstatus", "payment-status"},
	"successflag": {"success", "succeeded", "is_success", "issuccess", "paid", "approved"},
	"customfield": {"customfield", "custom_field", "custom-field", "custom"},
}

// ParseBody разбирает тело уведомления в плоскую карту полей. JSON-объект
// флаттенится по верхнему уровню (вложенные значения сохраняются как JSON-строки,
// что позволяет затем распарсить customfield); всё остальное трактуется как
// form/query-encoded строка. Ошибка возвращается только для содержимого,
// заявленного как JSON, но не разбираемого.
func ParseBody(contentType string, body []byte) (map[string]string, error) {
	fields := make(map[string]string)
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return fields, nil
	}

	isJSON := strings.Contains(contentType, "json") || strings.HasPrefix(trimmed, "{")
	if isJSON {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
			return nil, err
		}
		for key, value := range decoded {
			putField(fields, key, flattenValue(value))
		}
		return fields, nil
	}

	values, err := url.ParseQuery(trimmed)
	if err != nil {
		// Невалидный querystring не фатален: подпись уже проверена,
		// а отсутствие полей разрешит missing_session.
		return fields, nil
	}
	mergeValues(fields, values)
	return fields, nil
}

// Normalize извлекает каноничное уведомление из трёх источников.
// Приоритет: тело > разобранные query-параметры > сырая query-строка.
func Normalize(query url.Values, bodyFields map[string]string, rawQuery string) (domain.Notification, error) {
	merged := make(map[string]string)
	if rawValues, err := url.ParseQuery(rawQuery); err == nil {
		mergeValues(merged, rawValues)
	}
	mergeValues(merged, query)
	for key, value := range bodyFields {
		putField(merged, key, value)
	}

	n := domain.Notification{
		EventID:       lookup(merged, "event"),
		SessionID:     extractSessionID(merged),
		TransactionID: lookup(merged, "transaction"),
		AuthCode:      lookup(merged, "auth"),
		ResultCode:    lookup(merged, "resultcode"),
		ResultText:    lookup(merged, "resulttext"),
		Last4:         extractLast4(merged),
	}
	if flag := lookup(merged, "successflag"); flag != "" {
		if parsed, err := strconv.ParseBool(flag); err == nil {
			n.Success = &parsed
		}
	}

	if n.SessionID == "" {
		return n, domain.ErrMissingSession
	}
	return n, nil
}

// extractSessionID ищет идентификатор сессии среди top-level полей, а затем
// в JSON-закодированном customfield-подобъекте.
func extractSessionID(merged map[string]string) string {
	if id := lookup(merged, "session"); id != "" {
		return id
	}

	custom := lookup(merged, "customfield")
	if custom == "" {
		return ""
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(custom), &decoded); err != nil {
		return ""
	}
	nested := make(map[string]string)
	for key, value := range decoded {
		putField(nested, key, flattenValue(value))
	}
	return lookup(nested, "session")
}

// extractLast4 берёт last4 напрямую либо последние четыре цифры маскированного номера.
func extractLast4(merged map[string]string) string {
	if last4 := lookup(merged, "last4"); last4 != "" {
		return last4
	}
	masked := lookup(merged, "masked")
	if masked == "" {
		return ""
	}
	var digits []rune
	for _, r := range masked {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) < 4 {
		return ""
	}
	return string(digits[len(digits)-4:])
}

func lookup(fields map[string]string, canonical string) string {
	for _, alias := range fieldAliases[canonical] {
		if value := fields[alias]; value != "" {
			return value
		}
	}
	return ""
}

func mergeValues(dst map[string]string, values url.Values) {
	for key, list := range values {
		if len(list) == 0 {
			continue
		}
		putField(dst, key, list[0])
	}
}

// putField кладёт значение под ключом в нижнем регистре; пустые строки считаются
// отсутствующими и не затирают ранее найденные значения.
func putField(dst map[string]string, key, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	dst[strings.ToLower(strings.TrimSpace(key))] = value
}

// flattenValue приводит JSON-значение к строке, сохраняя вложенные структуры
// как JSON для последующего разбора.
func flattenValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}
