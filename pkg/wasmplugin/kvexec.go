package wasmplugin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aspen-cluster/aspen-wasm-plugin/pkg/kv"
)

// KVExecute runs a full-fidelity KV operation for plugins that replace
// native KV handlers. The request is JSON with an "op" field; results
// carry structured error codes (NOT_LEADER, CAS_FAILED), version
// metadata, and base64 values. Namespace validation applies to every
// key before any store call.
func (h *HostContext) KVExecute(ctx context.Context, requestJSON []byte) string {
	if err := h.checkPermission("kv_read", h.Permissions.KVRead || h.Permissions.KVWrite); err != nil {
		return errString(err.Error())
	}
	var request map[string]json.RawMessage
	if err := json.Unmarshal(requestJSON, &request); err != nil {
		return errString(fmt.Sprintf("invalid JSON: %v", err))
	}
	op := jsonString(request, "op")

	var (
		result any
		err    error
	)
	switch op {
	case "read":
		result, err = h.kvExecRead(ctx, request)
	case "write":
		result, err = h.kvExecWrite(ctx, request)
	case "delete":
		result, err = h.kvExecDelete(ctx, request)
	case "scan":
		result, err = h.kvExecScan(ctx, request)
	case "batch_read":
		result, err = h.kvExecBatchRead(ctx, request)
	case "batch_write":
		result, err = h.kvExecBatchWrite(ctx, request)
	case "cas":
		result, err = h.kvExecCas(ctx, request)
	case "cad":
		result, err = h.kvExecCad(ctx, request)
	case "conditional_batch":
		result, err = h.kvExecConditionalBatch(ctx, request)
	default:
		err = fmt.Errorf("unknown kv_execute op: %s", op)
	}
	if err != nil {
		return errString(err.Error())
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return errString(fmt.Sprintf("serialize failed: %v", err))
	}
	return okString(string(payload))
}

func jsonString(request map[string]json.RawMessage, field string) string {
	raw, ok := request[field]
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func requireString(request map[string]json.RawMessage, field string) (string, error) {
	s := jsonString(request, field)
	if s == "" {
		return "", fmt.Errorf("missing '%s'", field)
	}
	return s, nil
}

func decodeB64Field(request map[string]json.RawMessage, field string) ([]byte, error) {
	s, err := requireString(request, field)
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 %s: %v", field, err)
	}
	return data, nil
}

// notLeaderFields maps a write error to the shared (error, error_code,
// leader_id) result fields.
func notLeaderFields(err error) (message string, code *string, leaderID *uint64) {
	var notLeader *kv.NotLeaderError
	if errors.As(err, &notLeader) {
		c := "NOT_LEADER"
		msg := fmt.Sprintf("not leader; leader is node %d", notLeader.Leader)
		if notLeader.HasLeader {
			return msg, &c, &notLeader.Leader
		}
		return msg, &c, nil
	}
	return err.Error(), nil, nil
}

func (h *HostContext) kvExecRead(ctx context.Context, request map[string]json.RawMessage) (any, error) {
	key, err := requireString(request, "key")
	if err != nil {
		return nil, err
	}
	if err := h.validateKeyPrefix(key, "read"); err != nil {
		return nil, err
	}
	result, err := h.KV.Read(ctx, kv.ReadRequest{Key: key})
	if err != nil {
		var notFound *kv.NotFoundError
		if errors.As(err, &notFound) {
			return map[string]any{"value": nil, "was_found": false, "error": nil}, nil
		}
		return map[string]any{"value": nil, "was_found": false, "error": err.Error()}, nil
	}
	if result.KV == nil {
		return map[string]any{"value": nil, "was_found": false, "error": nil}, nil
	}
	return map[string]any{
		"value":     base64.StdEncoding.EncodeToString(result.KV.Value),
		"was_found": true,
		"error":     nil,
	}, nil
}

func (h *HostContext) kvExecWrite(ctx context.Context, request map[string]json.RawMessage) (any, error) {
	key, err := requireString(request, "key")
	if err != nil {
		return nil, err
	}
	if err := h.validateKeyPrefix(key, "write"); err != nil {
		return nil, err
	}
	value, err := decodeB64Field(request, "value")
	if err != nil {
		return nil, err
	}
	if _, err := h.KV.Write(ctx, kv.Set{Key: key, Value: value}); err != nil {
		msg, code, leader := notLeaderFields(err)
		return map[string]any{"is_success": false, "error": msg, "error_code": code, "leader_id": leader}, nil
	}
	return map[string]any{"is_success": true, "error": nil, "error_code": nil, "leader_id": nil}, nil
}

func (h *HostContext) kvExecDelete(ctx context.Context, request map[string]json.RawMessage) (any, error) {
	key, err := requireString(request, "key")
	if err != nil {
		return nil, err
	}
	if err := h.validateKeyPrefix(key, "delete"); err != nil {
		return nil, err
	}
	if _, err := h.KV.Write(ctx, kv.Delete{Key: key}); err != nil {
		msg, code, leader := notLeaderFields(err)
		return map[string]any{
			"key": key, "was_deleted": false, "error": msg, "error_code": code, "leader_id": leader,
		}, nil
	}
	return map[string]any{
		"key": key, "was_deleted": true, "error": nil, "error_code": nil, "leader_id": nil,
	}, nil
}

func (h *HostContext) kvExecScan(ctx context.Context, request map[string]json.RawMessage) (any, error) {
	prefix, err := requireString(request, "prefix")
	if err != nil {
		return nil, err
	}
	if err := h.validateScanPrefix(prefix); err != nil {
		return nil, err
	}
	var limit uint32
	if raw, ok := request["limit"]; ok {
		var v uint32
		if json.Unmarshal(raw, &v) == nil {
			limit = v
		}
	}
	req := kv.ScanRequest{
		Prefix:            prefix,
		Limit:             kv.BoundScanLimit(limit),
		ContinuationToken: jsonString(request, "continuation_token"),
	}
	result, err := h.KV.Scan(ctx, req)
	if err != nil {
		return map[string]any{
			"entries": []any{}, "count": 0, "is_truncated": false,
			"continuation_token": nil, "error": err.Error(),
		}, nil
	}
	entries := make([]map[string]any, 0, len(result.Entries))
	for _, e := range result.Entries {
		entries = append(entries, map[string]any{
			"key":             e.Key,
			"value":           base64.StdEncoding.EncodeToString(e.Value),
			"version":         e.Version,
			"create_revision": e.CreateRevision,
			"mod_revision":    e.ModRevision,
		})
	}
	var token any
	if result.ContinuationToken != "" {
		token = result.ContinuationToken
	}
	return map[string]any{
		"entries":            entries,
		"count":              result.Count,
		"is_truncated":       result.IsTruncated,
		"continuation_token": token,
		"error":              nil,
	}, nil
}

func (h *HostContext) kvExecBatchRead(ctx context.Context, request map[string]json.RawMessage) (any, error) {
	raw, ok := request["keys"]
	if !ok {
		return nil, fmt.Errorf("missing 'keys' array")
	}
	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("missing 'keys' array")
	}
	for _, key := range keys {
		if err := h.validateKeyPrefix(key, "batch-read"); err != nil {
			return nil, err
		}
	}
	values := make([]any, 0, len(keys))
	for _, key := range keys {
		result, err := h.KV.Read(ctx, kv.ReadRequest{Key: key})
		if err != nil {
			var notFound *kv.NotFoundError
			if errors.As(err, &notFound) {
				values = append(values, nil)
				continue
			}
			return map[string]any{"is_success": false, "values": nil, "error": err.Error()}, nil
		}
		if result.KV == nil {
			values = append(values, nil)
			continue
		}
		values = append(values, base64.StdEncoding.EncodeToString(result.KV.Value))
	}
	return map[string]any{"is_success": true, "values": values, "error": nil}, nil
}

// decodeBatchOps parses the externally tagged operation array shared by
// batch_write and conditional_batch, validating every key.
func (h *HostContext) decodeBatchOps(request map[string]json.RawMessage) ([]kv.BatchOp, error) {
	raw, ok := request["operations"]
	if !ok {
		return nil, fmt.Errorf("missing 'operations' array")
	}
	var opsJSON []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &opsJSON); err != nil {
		return nil, fmt.Errorf("missing 'operations' array")
	}
	ops := make([]kv.BatchOp, 0, len(opsJSON))
	for _, op := range opsJSON {
		if setRaw, ok := op["Set"]; ok {
			var set map[string]json.RawMessage
			if err := json.Unmarshal(setRaw, &set); err != nil {
				return nil, fmt.Errorf("invalid Set operation")
			}
			key, err := requireString(set, "key")
			if err != nil {
				return nil, fmt.Errorf("missing Set.key")
			}
			value, err := decodeB64Field(set, "value")
			if err != nil {
				return nil, err
			}
			if err := h.validateKeyPrefix(key, "batch-set"); err != nil {
				return nil, err
			}
			ops = append(ops, kv.BatchSet{Key: key, Value: value})
		} else if delRaw, ok := op["Delete"]; ok {
			var del map[string]json.RawMessage
			if err := json.Unmarshal(delRaw, &del); err != nil {
				return nil, fmt.Errorf("invalid Delete operation")
			}
			key, err := requireString(del, "key")
			if err != nil {
				return nil, fmt.Errorf("missing Delete.key")
			}
			if err := h.validateKeyPrefix(key, "batch-delete"); err != nil {
				return nil, err
			}
			ops = append(ops, kv.BatchDelete{Key: key})
		} else {
			return nil, fmt.Errorf("unknown batch operation")
		}
	}
	return ops, nil
}

func (h *HostContext) kvExecBatchWrite(ctx context.Context, request map[string]json.RawMessage) (any, error) {
	ops, err := h.decodeBatchOps(request)
	if err != nil {
		return nil, err
	}
	result, err := h.KV.Write(ctx, kv.Batch{Operations: ops})
	if err != nil {
		msg, code, leader := notLeaderFields(err)
		return map[string]any{
			"is_success": false, "operations_applied": nil,
			"error": msg, "error_code": code, "leader_id": leader,
		}, nil
	}
	return map[string]any{
		"is_success": true, "operations_applied": result.BatchApplied,
		"error": nil, "error_code": nil, "leader_id": nil,
	}, nil
}

func (h *HostContext) kvExecCas(ctx context.Context, request map[string]json.RawMessage) (any, error) {
	key, err := requireString(request, "key")
	if err != nil {
		return nil, err
	}
	if err := h.validateKeyPrefix(key, "cas"); err != nil {
		return nil, err
	}
	var expected []byte
	if jsonString(request, "expected") != "" {
		expected, err = decodeB64Field(request, "expected")
		if err != nil {
			return nil, err
		}
	}
	newValue, err := decodeB64Field(request, "new_value")
	if err != nil {
		return nil, err
	}

	_, err = h.KV.Write(ctx, kv.CompareAndSwap{Key: key, Expected: expected, NewValue: newValue})
	return casResult(err), nil
}

func (h *HostContext) kvExecCad(ctx context.Context, request map[string]json.RawMessage) (any, error) {
	key, err := requireString(request, "key")
	if err != nil {
		return nil, err
	}
	if err := h.validateKeyPrefix(key, "cad"); err != nil {
		return nil, err
	}
	expected, err := decodeB64Field(request, "expected")
	if err != nil {
		return nil, err
	}

	_, err = h.KV.Write(ctx, kv.CompareAndDelete{Key: key, Expected: expected})
	return casResult(err), nil
}

func casResult(err error) map[string]any {
	if err == nil {
		return map[string]any{
			"is_success": true, "actual_value": nil,
			"error": nil, "error_code": nil, "leader_id": nil,
		}
	}
	var casFailed *kv.CasFailedError
	if errors.As(err, &casFailed) {
		var actual any
		if casFailed.Actual != nil {
			actual = base64.StdEncoding.EncodeToString(casFailed.Actual)
		}
		code := "CAS_FAILED"
		return map[string]any{
			"is_success": false, "actual_value": actual,
			"error": nil, "error_code": code, "leader_id": nil,
		}
	}
	msg, code, leader := notLeaderFields(err)
	return map[string]any{
		"is_success": false, "actual_value": nil,
		"error": msg, "error_code": code, "leader_id": leader,
	}
}

func (h *HostContext) kvExecConditionalBatch(ctx context.Context, request map[string]json.RawMessage) (any, error) {
	raw, ok := request["conditions"]
	if !ok {
		return nil, fmt.Errorf("missing 'conditions' array")
	}
	var condsJSON []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &condsJSON); err != nil {
		return nil, fmt.Errorf("missing 'conditions' array")
	}
	conditions := make([]kv.Condition, 0, len(condsJSON))
	for _, c := range condsJSON {
		if veRaw, ok := c["ValueEquals"]; ok {
			var ve map[string]json.RawMessage
			if err := json.Unmarshal(veRaw, &ve); err != nil {
				return nil, fmt.Errorf("invalid ValueEquals condition")
			}
			key, err := requireString(ve, "key")
			if err != nil {
				return nil, fmt.Errorf("missing ValueEquals.key")
			}
			expected, err := decodeB64Field(ve, "expected")
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, kv.ValueEquals{Key: key, Expected: expected})
		} else if keRaw, ok := c["KeyExists"]; ok {
			var ke map[string]json.RawMessage
			if err := json.Unmarshal(keRaw, &ke); err != nil {
				return nil, fmt.Errorf("invalid KeyExists condition")
			}
			key, err := requireString(ke, "key")
			if err != nil {
				return nil, fmt.Errorf("missing KeyExists.key")
			}
			conditions = append(conditions, kv.KeyExists{Key: key})
		} else if kneRaw, ok := c["KeyNotExists"]; ok {
			var kne map[string]json.RawMessage
			if err := json.Unmarshal(kneRaw, &kne); err != nil {
				return nil, fmt.Errorf("invalid KeyNotExists condition")
			}
			key, err := requireString(kne, "key")
			if err != nil {
				return nil, fmt.Errorf("missing KeyNotExists.key")
			}
			conditions = append(conditions, kv.KeyNotExists{Key: key})
		} else {
			return nil, fmt.Errorf("unknown condition type")
		}
	}

	ops, err := h.decodeBatchOps(request)
	if err != nil {
		return nil, err
	}

	result, err := h.KV.Write(ctx, kv.ConditionalBatch{Conditions: conditions, Operations: ops})
	if err != nil {
		msg, code, leader := notLeaderFields(err)
		return map[string]any{
			"is_success": false, "conditions_met": false, "operations_applied": nil,
			"failed_condition_index": nil, "failed_condition_reason": nil,
			"error": msg, "error_code": code, "leader_id": leader,
		}, nil
	}
	conditionsMet := result.ConditionsMet != nil && *result.ConditionsMet
	return map[string]any{
		"is_success": conditionsMet, "conditions_met": conditionsMet,
		"operations_applied":     result.BatchApplied,
		"failed_condition_index": result.FailedConditionIndex,
		"failed_condition_reason": nil,
		"error":                  nil, "error_code": nil, "leader_id": nil,
	}, nil
}
