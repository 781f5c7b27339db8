// Package dynamotest provides an in-memory DynamoDB stand-in for unit tests.
//
// It understands the small expression dialect the stores emit: conditions built
// from comparisons, attribute_exists, attribute_not_exists and contains, combined
// with AND, OR and parentheses (AND binds tighter), and
// update expressions made of SET, ADD and REMOVE sections. Tables have a single
// string hash key. Pagination is not simulated: every Query/Scan returns one page.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type table struct {
	key   string
	items map[string]map[string]types.AttributeValue
}

// Fake implements aws.DynamoDBAPI.
type Fake struct {
	mu     sync.Mutex
	tables map[string]*table
	calls  map[string]int
	fail   map[string]error
}

// New returns an empty fake with no tables.
func New() *Fake {
	return &Fake{
		tables: map[string]*table{},
		calls:  map[string]int{},
		fail:   map[string]error{},
	}
}

// CreateTable registers a table keyed by hashKey.
func (f *Fake) CreateTable(name, hashKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[name] = &table{key: hashKey, items: map[string]map[string]types.AttributeValue{}}
}

// FailOn makes every call to op ("PutItem", "Query", ...) return err until cleared with nil.
func (f *Fake) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
		return
	}
	f.fail[op] = err
}

// Calls reports how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Seed stores item as-is, bypassing conditions.
func (f *Fake) Seed(tableName string, item map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.mustTable(tableName)
	k, err := keyOf(t, item)
	if err != nil {
		panic(err)
	}
	t.items[k] = copyItem(item)
}

// Item returns a copy of the stored item or nil.
func (f *Fake) Item(tableName, key string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.mustTable(tableName).items[key]
	if !ok {
		return nil
	}
	return copyItem(it)
}

// Len returns the number of items in a table.
func (f *Fake) Len(tableName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mustTable(tableName).items)
}

func (f *Fake) enter(op string) error {
	f.calls[op]++
	return f.fail[op]
}

func (f *Fake) mustTable(name string) *table {
	t, ok := f.tables[name]
	if !ok {
		panic(fmt.Sprintf("dynamotest: unknown table %q", name))
	}
	return t
}

func (f *Fake) table(name *string) (*table, error) {
	if name == nil {
		return nil, errors.New("dynamotest: missing table name")
	}
	t, ok := f.tables[*name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: name}
	}
	return t, nil
}

// PutItem implements aws.DynamoDBAPI.
func (f *Fake) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("PutItem"); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := keyOf(t, in.Item)
	if err != nil {
		return nil, err
	}
	ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, t.items[k])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: awsString("The conditional request failed")}
	}
	t.items[k] = copyItem(in.Item)
	return &dyn.PutItemOutput{}, nil
}

// GetItem implements aws.DynamoDBAPI.
func (f *Fake) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetItem"); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := keyOf(t, in.Key)
	if err != nil {
		return nil, err
	}
	it, ok := t.items[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(it)}, nil
}

// UpdateItem implements aws.DynamoDBAPI. Missing items are created, as DynamoDB does.
func (f *Fake) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateItem"); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	updated, err := f.applyUpdate(t, in.Key, in.ConditionExpression, in.UpdateExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	out := &dyn.UpdateItemOutput{}
	if in.ReturnValues != "" && in.ReturnValues != types.ReturnValueNone {
		out.Attributes = copyItem(updated)
	}
	return out, nil
}

func (f *Fake) applyUpdate(t *table, key map[string]types.AttributeValue, cond, update *string, names map[string]string, values map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	k, err := keyOf(t, key)
	if err != nil {
		return nil, err
	}
	current := t.items[k]
	ok, err := evalCondition(cond, names, values, current)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: awsString("The conditional request failed")}
	}
	next := copyItem(current)
	if next == nil {
		next = copyItem(key)
	}
	if update != nil {
		if err := evalUpdate(*update, names, values, next); err != nil {
			return nil, err
		}
	}
	t.items[k] = next
	return next, nil
}

// Query implements aws.DynamoDBAPI for equality key conditions on any attribute.
func (f *Fake) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Query"); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	var items []map[string]types.AttributeValue
	for _, k := range sortedKeys(t.items) {
		it := t.items[k]
		ok, err := evalCondition(in.KeyConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, it)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		ok, err = evalCondition(in.FilterExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, it)
		if err != nil {
			return nil, err
		}
		if ok {
			items = append(items, copyItem(it))
		}
	}
	return &dyn.QueryOutput{Items: items, Count: int32(len(items))}, nil
}

// Scan implements aws.DynamoDBAPI.
func (f *Fake) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Scan"); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	var items []map[string]types.AttributeValue
	for _, k := range sortedKeys(t.items) {
		it := t.items[k]
		ok, err := evalCondition(in.FilterExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, it)
		if err != nil {
			return nil, err
		}
		if ok {
			items = append(items, copyItem(it))
		}
	}
	return &dyn.ScanOutput{Items: items, Count: int32(len(items))}, nil
}

// TransactWriteItems implements aws.DynamoDBAPI: all conditions are checked first and
// nothing is written unless every one passes.
func (f *Fake) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("TransactWriteItems"); err != nil {
		return nil, err
	}
	if len(in.TransactItems) == 0 || len(in.TransactItems) > 100 {
		return nil, errors.New("ValidationException: transaction must contain 1..100 actions")
	}

	type target struct {
		t *table
		k string
	}
	targets := make([]target, len(in.TransactItems))
	seen := map[string]bool{}
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	canceled := false

	for i, it := range in.TransactItems {
		var (
			tbl    *string
			key    map[string]types.AttributeValue
			cond   *string
			names  map[string]string
			values map[string]types.AttributeValue
		)
		switch {
		case it.Put != nil:
			tbl, key, cond, names, values = it.Put.TableName, it.Put.Item, it.Put.ConditionExpression, it.Put.ExpressionAttributeNames, it.Put.ExpressionAttributeValues
		case it.Update != nil:
			tbl, key, cond, names, values = it.Update.TableName, it.Update.Key, it.Update.ConditionExpression, it.Update.ExpressionAttributeNames, it.Update.ExpressionAttributeValues
		case it.ConditionCheck != nil:
			tbl, key, cond, names, values = it.ConditionCheck.TableName, it.ConditionCheck.Key, it.ConditionCheck.ConditionExpression, it.ConditionCheck.ExpressionAttributeNames, it.ConditionCheck.ExpressionAttributeValues
		case it.Delete != nil:
			tbl, key, cond, names, values = it.Delete.TableName, it.Delete.Key, it.Delete.ConditionExpression, it.Delete.ExpressionAttributeNames, it.Delete.ExpressionAttributeValues
		default:
			return nil, errors.New("ValidationException: empty transact item")
		}
		t, err := f.table(tbl)
		if err != nil {
			return nil, err
		}
		k, err := keyOf(t, key)
		if err != nil {
			return nil, err
		}
		id := *tbl + "/" + k
		if seen[id] {
			return nil, fmt.Errorf("ValidationException: multiple operations on one item (%s)", id)
		}
		seen[id] = true
		targets[i] = target{t: t, k: k}

		ok, err := evalCondition(cond, names, values, t.items[k])
		if err != nil {
			return nil, err
		}
		if ok {
			reasons[i] = types.CancellationReason{Code: awsString("None")}
		} else {
			canceled = true
			reasons[i] = types.CancellationReason{Code: awsString("ConditionalCheckFailed")}
		}
	}
	if canceled {
		return nil, &types.TransactionCanceledException{
			Message:             awsString("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}

	for i, it := range in.TransactItems {
		tg := targets[i]
		switch {
		case it.Put != nil:
			tg.t.items[tg.k] = copyItem(it.Put.Item)
		case it.Update != nil:
			u := it.Update
			// condition already verified above
			if _, err := f.applyUpdate(tg.t, u.Key, nil, u.UpdateExpression, u.ExpressionAttributeNames, u.ExpressionAttributeValues); err != nil {
				return nil, err
			}
		case it.Delete != nil:
			delete(tg.t.items, tg.k)
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

// --- expressions ---

var (
	reExists    = regexp.MustCompile(`^attribute_exists\(\s*([#\w.]+)\s*\)$`)
	reNotExists = regexp.MustCompile(`^attribute_not_exists\(\s*([#\w.]+)\s*\)$`)
	reContains  = regexp.MustCompile(`^contains\(\s*([#\w.]+)\s*,\s*(:\w+)\s*\)$`)
	reCompare   = regexp.MustCompile(`^([#\w.]+)\s*(=|<>|>=|<=|>|<)\s*(:\w+)$`)
	reSection   = regexp.MustCompile(`\b(SET|ADD|REMOVE)\s`)
	reFunc      = regexp.MustCompile(`^(list_append|if_not_exists)\((.*)\)$`)
)

func evalCondition(expr *string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true, nil
	}
	return evalExpr(*expr, names, values, item)
}

// evalExpr evaluates OR of ANDs; AND binds tighter, parentheses group.
func evalExpr(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	expr = unwrap(strings.TrimSpace(expr))
	if disjuncts := splitKeyword(expr, " OR "); len(disjuncts) > 1 {
		for _, d := range disjuncts {
			ok, err := evalExpr(d, names, values, item)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	}
	if conjuncts := splitKeyword(expr, " AND "); len(conjuncts) > 1 {
		for _, c := range conjuncts {
			ok, err := evalExpr(c, names, values, item)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
	return evalClause(expr, names, values, item)
}

// unwrap strips parentheses that enclose the whole expression, so
// "(a OR b)" becomes "a OR b" while "attribute_exists(a)" is kept.
func unwrap(expr string) string {
	for len(expr) >= 2 && expr[0] == '(' && closingParen(expr) == len(expr)-1 {
		expr = strings.TrimSpace(expr[1 : len(expr)-1])
	}
	return expr
}

// closingParen returns the index of the ')' matching the '(' at index 0.
func closingParen(expr string) int {
	depth := 0
	for i, r := range expr {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitKeyword splits expr on sep outside parentheses.
func splitKeyword(expr, sep string) []string {
	var (
		parts []string
		depth int
		start int
	)
	for i := 0; i < len(expr); i++ {
		switch expr[i] {
		case '(':
			depth++
		case ')':
			depth--
		default:
			if depth == 0 && strings.HasPrefix(expr[i:], sep) {
				parts = append(parts, expr[start:i])
				i += len(sep) - 1
				start = i + 1
			}
		}
	}
	return append(parts, expr[start:])
}

func evalClause(clause string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	if m := reExists.FindStringSubmatch(clause); m != nil {
		_, ok := item[resolveName(m[1], names)]
		return ok, nil
	}
	if m := reNotExists.FindStringSubmatch(clause); m != nil {
		_, ok := item[resolveName(m[1], names)]
		return !ok, nil
	}
	if m := reContains.FindStringSubmatch(clause); m != nil {
		attr, ok := item[resolveName(m[1], names)]
		if !ok {
			return false, nil
		}
		v, err := value(m[2], values)
		if err != nil {
			return false, err
		}
		return contains(attr, v), nil
	}
	if m := reCompare.FindStringSubmatch(clause); m != nil {
		attr, ok := item[resolveName(m[1], names)]
		if !ok {
			return false, nil
		}
		v, err := value(m[3], values)
		if err != nil {
			return false, err
		}
		return compare(attr, m[2], v)
	}
	return false, fmt.Errorf("dynamotest: unsupported condition %q", clause)
}

func evalUpdate(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) error {
	locs := reSection.FindAllStringSubmatchIndex(expr, -1)
	if len(locs) == 0 {
		return fmt.Errorf("dynamotest: unsupported update %q", expr)
	}
	for i, loc := range locs {
		end := len(expr)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		keyword := expr[loc[2]:loc[3]]
		body := strings.TrimSpace(expr[loc[1]:end])
		for _, part := range splitTopLevel(body) {
			var err error
			switch keyword {
			case "SET":
				err = applySet(part, names, values, item)
			case "ADD":
				err = applyAdd(part, names, values, item)
			case "REMOVE":
				delete(item, resolveName(part, names))
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func applySet(part string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) error {
	lhs, rhs, ok := strings.Cut(part, "=")
	if !ok {
		return fmt.Errorf("dynamotest: bad SET clause %q", part)
	}
	v, err := operand(strings.TrimSpace(rhs), names, values, item)
	if err != nil {
		return err
	}
	item[resolveName(strings.TrimSpace(lhs), names)] = v
	return nil
}

func applyAdd(part string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) error {
	fields := strings.Fields(part)
	if len(fields) != 2 {
		return fmt.Errorf("dynamotest: bad ADD clause %q", part)
	}
	name := resolveName(fields[0], names)
	delta, err := value(fields[1], values)
	if err != nil {
		return err
	}
	cur, ok := item[name]
	if !ok {
		item[name] = delta
		return nil
	}
	switch d := delta.(type) {
	case *types.AttributeValueMemberN:
		c, ok := cur.(*types.AttributeValueMemberN)
		if !ok {
			return fmt.Errorf("dynamotest: ADD number to non-number %q", name)
		}
		item[name] = &types.AttributeValueMemberN{Value: addNumbers(c.Value, d.Value)}
	case *types.AttributeValueMemberSS:
		c, ok := cur.(*types.AttributeValueMemberSS)
		if !ok {
			return fmt.Errorf("dynamotest: ADD set to non-set %q", name)
		}
		merged := append([]string{}, c.Value...)
		for _, s := range d.Value {
			if !containsString(merged, s) {
				merged = append(merged, s)
			}
		}
		item[name] = &types.AttributeValueMemberSS{Value: merged}
	default:
		return fmt.Errorf("dynamotest: unsupported ADD operand for %q", name)
	}
	return nil
}

func operand(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (types.AttributeValue, error) {
	if strings.HasPrefix(expr, ":") {
		return value(expr, values)
	}
	if m := reFunc.FindStringSubmatch(expr); m != nil {
		args := splitTopLevel(m[2])
		if len(args) != 2 {
			return nil, fmt.Errorf("dynamotest: %s needs two arguments", m[1])
		}
		switch m[1] {
		case "if_not_exists":
			if cur, ok := item[resolveName(strings.TrimSpace(args[0]), names)]; ok {
				return cur, nil
			}
			return operand(strings.TrimSpace(args[1]), names, values, item)
		case "list_append":
			a, err := operand(strings.TrimSpace(args[0]), names, values, item)
			if err != nil {
				return nil, err
			}
			b, err := operand(strings.TrimSpace(args[1]), names, values, item)
			if err != nil {
				return nil, err
			}
			la, okA := a.(*types.AttributeValueMemberL)
			lb, okB := b.(*types.AttributeValueMemberL)
			if !okA || !okB {
				return nil, errors.New("dynamotest: list_append on non-list")
			}
			out := append(append([]types.AttributeValue{}, la.Value...), lb.Value...)
			return &types.AttributeValueMemberL{Value: out}, nil
		}
	}
	cur, ok := item[resolveName(expr, names)]
	if !ok {
		return nil, fmt.Errorf("ValidationException: attribute %q does not exist", expr)
	}
	return cur, nil
}

func splitTopLevel(s string) []string {
	var (
		parts []string
		depth int
		start int
	)
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		parts = append(parts, rest)
	}
	return parts
}

func resolveName(name string, names map[string]string) string {
	if strings.HasPrefix(name, "#") {
		if n, ok := names[name]; ok {
			return n
		}
	}
	return name
}

func value(placeholder string, values map[string]types.AttributeValue) (types.AttributeValue, error) {
	v, ok := values[placeholder]
	if !ok {
		return nil, fmt.Errorf("ValidationException: value %s not defined", placeholder)
	}
	return v, nil
}

func compare(a types.AttributeValue, op string, b types.AttributeValue) (bool, error) {
	if an, ok := a.(*types.AttributeValueMemberN); ok {
		bn, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return op == "<>", nil
		}
		x, err := strconv.ParseFloat(an.Value, 64)
		if err != nil {
			return false, err
		}
		y, err := strconv.ParseFloat(bn.Value, 64)
		if err != nil {
			return false, err
		}
		return cmp(op, x < y, x == y), nil
	}
	if as, ok := a.(*types.AttributeValueMemberS); ok {
		bs, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return op == "<>", nil
		}
		return cmp(op, as.Value < bs.Value, as.Value == bs.Value), nil
	}
	eq := reflect.DeepEqual(a, b)
	switch op {
	case "=":
		return eq, nil
	case "<>":
		return !eq, nil
	}
	return false, fmt.Errorf("dynamotest: operator %s unsupported for %T", op, a)
}

func cmp(op string, less, equal bool) bool {
	switch op {
	case "=":
		return equal
	case "<>":
		return !equal
	case "<":
		return less
	case "<=":
		return less || equal
	case ">":
		return !less && !equal
	case ">=":
		return !less
	}
	return false
}

func contains(attr, v types.AttributeValue) bool {
	switch a := attr.(type) {
	case *types.AttributeValueMemberSS:
		if s, ok := v.(*types.AttributeValueMemberS); ok {
			return containsString(a.Value, s.Value)
		}
	case *types.AttributeValueMemberL:
		for _, e := range a.Value {
			if reflect.DeepEqual(e, v) {
				return true
			}
		}
	case *types.AttributeValueMemberS:
		if s, ok := v.(*types.AttributeValueMemberS); ok {
			return strings.Contains(a.Value, s.Value)
		}
	}
	return false
}

func addNumbers(a, b string) string {
	x, errX := strconv.ParseInt(a, 10, 64)
	y, errY := strconv.ParseInt(b, 10, 64)
	if errX == nil && errY == nil {
		return strconv.FormatInt(x+y, 10)
	}
	fx, _ := strconv.ParseFloat(a, 64)
	fy, _ := strconv.ParseFloat(b, 64)
	return strconv.FormatFloat(fx+fy, 'f', -1, 64)
}

func keyOf(t *table, item map[string]types.AttributeValue) (string, error) {
	v, ok := item[t.key]
	if !ok {
		return "", fmt.Errorf("ValidationException: missing key attribute %q", t.key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok || s.Value == "" {
		return "", fmt.Errorf("ValidationException: key %q must be a non-empty string", t.key)
	}
	return s.Value, nil
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

func sortedKeys(m map[string]map[string]types.AttributeValue) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// insertion order is not tracked; sort for deterministic results
	sort.Strings(keys)
	return keys
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func awsString(s string) *string { return &s }
