// Package awstest provides in-memory fakes of the AWS client interfaces for unit tests.
package awstest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDB is a small in-memory DynamoDB. It understands the subset of
// condition and update expressions the stores issue:
// attribute_exists/attribute_not_exists, equality, AND/OR (one kind per
// expression) and plain "SET a = :v, b = :w" updates.
type DynamoDB struct {
	mu     sync.Mutex
	tables map[string]*table
	errs   map[string]error
	calls  map[string]int
}

type table struct {
	pk    string
	items map[string]map[string]types.AttributeValue
}

// NewDynamoDB returns an empty fake with no tables.
func NewDynamoDB() *DynamoDB {
	return &DynamoDB{
		tables: map[string]*table{},
		errs:   map[string]error{},
		calls:  map[string]int{},
	}
}

// CreateTable registers a table keyed by a string partition key.
func (m *DynamoDB) CreateTable(name, pk string) *DynamoDB {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[name] = &table{pk: pk, items: map[string]map[string]types.AttributeValue{}}
	return m
}

// Fail makes every subsequent call of op ("PutItem", "GetItem", ...) return err. A nil err clears it.
func (m *DynamoDB) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, op)
		return
	}
	m.errs[op] = err
}

// Calls reports how many times op was invoked.
func (m *DynamoDB) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Item returns a copy of the stored item, or nil.
func (m *DynamoDB) Item(tableName, key string) map[string]types.AttributeValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[tableName]
	if !ok {
		return nil
	}
	item, ok := t.items[key]
	if !ok {
		return nil
	}
	return copyItem(item)
}

// Len reports the number of items in a table.
func (m *DynamoDB) Len(tableName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tables[tableName]; ok {
		return len(t.items)
	}
	return 0
}

// Seed stores an item as-is, bypassing conditions.
func (m *DynamoDB) Seed(tableName string, item map[string]types.AttributeValue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tables[tableName]
	t.items[stringValue(item[t.pk])] = copyItem(item)
}

func (m *DynamoDB) enter(op, tableName string) (*table, error) {
	m.calls[op]++
	if err := m.errs[op]; err != nil {
		return nil, err
	}
	t, ok := m.tables[tableName]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: strPtr("table not found: " + tableName)}
	}
	return t, nil
}

func (m *DynamoDB) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.enter("PutItem", deref(in.TableName))
	if err != nil {
		return nil, err
	}
	key := stringValue(in.Item[t.pk])
	if key == "" {
		return nil, errors.New("missing partition key " + t.pk)
	}
	if in.ConditionExpression != nil {
		ok, err := evalCondition(*in.ConditionExpression, t.items[key], in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
		}
	}
	t.items[key] = copyItem(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (m *DynamoDB) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.enter("GetItem", deref(in.TableName))
	if err != nil {
		return nil, err
	}
	item, ok := t.items[stringValue(in.Key[t.pk])]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (m *DynamoDB) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.enter("UpdateItem", deref(in.TableName))
	if err != nil {
		return nil, err
	}
	key := stringValue(in.Key[t.pk])
	current := t.items[key]
	if in.ConditionExpression != nil {
		ok, err := evalCondition(*in.ConditionExpression, current, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
		}
	}
	next := copyItem(current)
	if next == nil {
		next = copyItem(in.Key)
	}
	if err := applyUpdate(deref(in.UpdateExpression), next, in.ExpressionAttributeNames, in.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	t.items[key] = next
	return &dyn.UpdateItemOutput{Attributes: copyItem(next)}, nil
}

func (m *DynamoDB) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.enter("Scan", deref(in.TableName))
	if err != nil {
		return nil, err
	}
	out := &dyn.ScanOutput{}
	for _, item := range t.items {
		if in.FilterExpression != nil {
			ok, err := evalCondition(*in.FilterExpression, item, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out.Items = append(out.Items, copyItem(item))
	}
	out.Count = int32(len(out.Items))
	out.ScannedCount = int32(len(t.items))
	return out, nil
}

func evalCondition(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	expr = strings.TrimSpace(expr)
	if strings.Contains(expr, " OR ") {
		for _, clause := range strings.Split(expr, " OR ") {
			ok, err := evalClause(clause, item, names, values)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	}
	for _, clause := range strings.Split(expr, " AND ") {
		ok, err := evalClause(clause, item, names, values)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func evalClause(clause string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	clause = strings.TrimSpace(clause)
	switch {
	case strings.HasPrefix(clause, "attribute_exists(") && strings.HasSuffix(clause, ")"):
		attr := resolveName(clause[len("attribute_exists("):len(clause)-1], names)
		_, ok := item[attr]
		return ok, nil
	case strings.HasPrefix(clause, "attribute_not_exists(") && strings.HasSuffix(clause, ")"):
		attr := resolveName(clause[len("attribute_not_exists("):len(clause)-1], names)
		_, ok := item[attr]
		return !ok, nil
	case strings.Contains(clause, "<>"):
		lhs, rhs, _ := strings.Cut(clause, "<>")
		want, ok := values[strings.TrimSpace(rhs)]
		if !ok {
			return false, fmt.Errorf("missing expression value %s", rhs)
		}
		got, exists := item[resolveName(lhs, names)]
		return !exists || !reflect.DeepEqual(got, want), nil
	case strings.Contains(clause, "="):
		lhs, rhs, _ := strings.Cut(clause, "=")
		want, ok := values[strings.TrimSpace(rhs)]
		if !ok {
			return false, fmt.Errorf("missing expression value %s", rhs)
		}
		got, exists := item[resolveName(lhs, names)]
		return exists && reflect.DeepEqual(got, want), nil
	}
	return false, fmt.Errorf("unsupported condition clause %q", clause)
}

func applyUpdate(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) error {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "SET ") {
		return fmt.Errorf("unsupported update expression %q", expr)
	}
	for _, assign := range strings.Split(strings.TrimPrefix(expr, "SET "), ",") {
		lhs, rhs, ok := strings.Cut(assign, "=")
		if !ok {
			return fmt.Errorf("bad assignment %q", assign)
		}
		v, ok := values[strings.TrimSpace(rhs)]
		if !ok {
			return fmt.Errorf("missing expression value %s", rhs)
		}
		item[resolveName(lhs, names)] = v
	}
	return nil
}

func resolveName(token string, names map[string]string) string {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(token, "#") {
		if n, ok := names[token]; ok {
			return n
		}
	}
	return token
}

func stringValue(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string { return &s }
