package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// orderSchema 约束入站 D/F/G 消息的结构，业务校验（标的、数量范围、价格步长）在 Validate 中完成。
const orderSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["MsgType", "ClOrdID", "Symbol", "Side"],
  "properties": {
    "MsgType":      {"enum": ["D", "F", "G"]},
    "ClOrdID":      {"type": "string", "minLength": 1},
    "OrigClOrdID":  {"type": "string", "minLength": 1},
    "Symbol":       {"type": "string", "minLength": 1},
    "Side":         {"enum": ["1", "2", "5"]},
    "OrdType":      {"type": "string", "maxLength": 1},
    "TimeInForce":  {"type": "string", "maxLength": 1},
    "OrderQty":     {"type": "integer"},
    "Price":        {"type": ["number", "string"]},
    "Account":      {"type": "string"},
    "TransactTime": {"type": "string", "format": "date-time"}
  },
  "allOf": [
    {
      "if":   {"properties": {"MsgType": {"const": "D"}}},
      "then": {"required": ["OrdType", "TimeInForce", "OrderQty"]}
    },
    {
      "if":   {"properties": {"MsgType": {"const": "F"}}},
      "then": {"required": ["OrigClOrdID"]}
    },
    {
      "if":   {"properties": {"MsgType": {"const": "G"}}},
      "then": {"required": ["OrigClOrdID", "OrdType", "TimeInForce", "OrderQty"]}
    }
  ]
}`

// Schema 校验并解码入站消息。
type Schema struct {
	schema *jsonschema.Schema
}

// NewSchema 编译入站消息的 JSON Schema。
func NewSchema() (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	compiler.AssertFormat = true
	if err := compiler.AddResource("order.json", bytes.NewReader([]byte(orderSchema))); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := compiler.Compile("order.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return &Schema{schema: schema}, nil
}

// Decode 校验原始 JSON 并解码为 OrderMessage；失败时返回可直接发回会话的 BusinessMessageReject。
func (s *Schema) Decode(raw []byte) (OrderMessage, *BusinessMessageReject) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return OrderMessage{}, businessReject(nil, BusinessRejectOther, fmt.Sprintf("malformed message: %v", err))
	}
	obj, _ := doc.(map[string]interface{})

	if err := s.schema.Validate(doc); err != nil {
		reason := BusinessRejectOther
		if mt, ok := obj["MsgType"].(string); ok && !isOrderMsgType(mt) {
			reason = BusinessRejectUnsupportedMessageType
		}
		text := err.Error()
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			text = describe(ve)
		}
		return OrderMessage{}, businessReject(obj, reason, text)
	}

	var msg OrderMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return OrderMessage{}, businessReject(obj, BusinessRejectOther, fmt.Sprintf("malformed message: %v", err))
	}
	return msg, nil
}

func isOrderMsgType(mt string) bool {
	switch MsgType(mt) {
	case MsgNewOrderSingle, MsgOrderCancelRequest, MsgOrderCancelReplaceRequest:
		return true
	}
	return false
}

// describe 取最深一层的校验错误，定位到具体字段。
func describe(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if ve.InstanceLocation == "" {
		return ve.Message
	}
	return fmt.Sprintf("%s: %s", ve.InstanceLocation, ve.Message)
}

func businessReject(obj map[string]interface{}, reason int, text string) *BusinessMessageReject {
	r := &BusinessMessageReject{
		MsgType:              MsgBusinessMessageReject,
		BusinessRejectReason: reason,
		Text:                 text,
	}
	if mt, ok := obj["MsgType"].(string); ok {
		r.RefMsgType = mt
	}
	if id, ok := obj["ClOrdID"].(string); ok {
		r.BusinessRejectRefID = id
	}
	return r
}
