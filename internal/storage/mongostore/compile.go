package mongostore

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"warden/internal/storage/query"
)

var mongoOps = map[query.Op]string{
	query.OpEq:  "$eq",
	query.OpNe:  "$ne",
	query.OpGt:  "$gt",
	query.OpGte: "$gte",
	query.OpLt:  "$lt",
	query.OpLte: "$lte",
	query.OpIn:  "$in",
}

// Filter compiles a predicate tree into a bson filter. Mongo's own rules
// line up with the document contract: $eq null and $ne match absent fields,
// range operators only match values of the same type and $nor is the exact
// complement of its operand.
func Filter(n query.Node) (bson.D, error) {
	switch x := n.(type) {
	case nil:
		return bson.D{}, nil
	case *query.Cond:
		return cond(x)
	case *query.Logical:
		l, err := Filter(x.Left)
		if err != nil {
			return nil, err
		}
		r, err := Filter(x.Right)
		if err != nil {
			return nil, err
		}
		op := "$and"
		if x.Op == query.Or {
			op = "$or"
		}
		return bson.D{{Key: op, Value: bson.A{l, r}}}, nil
	case *query.Not:
		inner, err := Filter(x.Node)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "$nor", Value: bson.A{inner}}}, nil
	}
	return nil, fmt.Errorf("%w: unknown node %T", query.ErrInvalidQuery, n)
}

func cond(x *query.Cond) (bson.D, error) {
	if x.Op == query.OpLike {
		pattern, ok := x.Value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: like needs a string pattern", query.ErrInvalidQuery)
		}
		return bson.D{{Key: x.Field, Value: bson.D{{Key: "$regex", Value: bson.Regex{Pattern: query.LikeRegexp(pattern), Options: "s"}}}}}, nil
	}
	op, ok := mongoOps[x.Op]
	if !ok {
		return nil, fmt.Errorf("%w: unknown operator %q", query.ErrInvalidQuery, x.Op)
	}
	value := x.Value
	switch x.Op {
	case query.OpGt, query.OpGte, query.OpLt, query.OpLte:
		if value == nil {
			return nil, fmt.Errorf("%w: %s needs a scalar value", query.ErrInvalidQuery, x.Op)
		}
	case query.OpIn:
		list, _ := x.Value.([]any)
		value = bson.A(list)
		if list == nil {
			value = bson.A{}
		}
	}
	return bson.D{{Key: x.Field, Value: bson.D{{Key: op, Value: value}}}}, nil
}

// Sort compiles sort keys, appending _id ascending as the tie-break.
func Sort(sorts []query.Sort) bson.D {
	out := make(bson.D, 0, len(sorts)+1)
	for _, s := range sorts {
		dir := 1
		if s.Dir == query.Desc {
			dir = -1
		}
		out = append(out, bson.E{Key: s.Field, Value: dir})
	}
	return append(out, bson.E{Key: "_id", Value: 1})
}
