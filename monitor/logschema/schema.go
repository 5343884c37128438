package logschema

import (
	"fmt"
	"sort"
	"strings"
)

// Schema 定义每个日志事件所需的关键字段，便于集中校验。
type Schema struct {
	Event    string
	Required []string
}

var orderFields = []string{"client_id", "cl_ord_id", "symbol", "side", "order_qty", "price"}

var tradeFields = []string{"client_id", "cl_ord_id", "side", "exec_qty", "exec_price", "contra_id"}

var schemas = map[string]Schema{
	"accepted":           {Event: "accepted", Required: orderFields},
	"replaced":           {Event: "replaced", Required: orderFields},
	"canceled":           {Event: "canceled", Required: []string{"client_id", "cl_ord_id"}},
	"rejected":           {Event: "rejected", Required: []string{"client_id", "msg_type", "reason"}},
	"FILL":               {Event: "FILL", Required: tradeFields},
	"PARTIAL_FILL":       {Event: "PARTIAL_FILL", Required: append([]string{"remaining_qty"}, tradeFields...)},
	"simulation_started": {Event: "simulation_started", Required: []string{"start", "end", "delay"}},
	"simulation_stopped": {Event: "simulation_stopped", Required: []string{"rows"}},
	"replay_finished":    {Event: "replay_finished", Required: []string{"rows"}},
}

// Known 返回所有事件名，便于外部生成文档。
func Known() []string {
	names := make([]string, 0, len(schemas))
	for k := range schemas {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Validate 检查日志字段是否包含 schema 中要求的 key；未登记的事件不检查。
func Validate(event string, fields map[string]interface{}) error {
	s, ok := schemas[event]
	if !ok {
		return nil
	}
	var missing []string
	for _, key := range s.Required {
		if _, exists := fields[key]; !exists {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: missing fields: %s", event, strings.Join(missing, ","))
	}
	return nil
}
