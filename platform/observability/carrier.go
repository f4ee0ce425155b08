package observability

import (
	"github.com/segmentio/kafka-go"
)

// headerCarrier адаптирует заголовки kafka.Message к propagation.TextMapCarrier
type headerCarrier struct {
	headers *[]kafka.Header
}

// NewHeaderCarrier создаёт carrier поверх заголовков сообщения (Inject дописывает в msg.Headers)
func NewHeaderCarrier(msg *kafka.Message) *headerCarrier {
	return &headerCarrier{headers: &msg.Headers}
}

// Get возвращает значение последнего заголовка с ключом key
func (c *headerCarrier) Get(key string) string {
	value := ""
	for _, h := range *c.headers {
		if h.Key == key {
			value = string(h.Value)
		}
	}
	return value
}

// Set заменяет заголовок key (при переотправке сообщения traceparent не должен дублироваться)
func (c *headerCarrier) Set(key, value string) {
	for i, h := range *c.headers {
		if h.Key == key {
			(*c.headers)[i].Value = []byte(value)
			return
		}
	}
	*c.headers = append(*c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	out := make([]string, 0, len(*c.headers))
	for _, h := range *c.headers {
		out = append(out, h.Key)
	}
	return out
}
