package sqlguard

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/statline/statline/internal/schema"
)

var deniedFunctions = map[string]struct{}{
	"glob": {}, "sqlite_scan": {}, "sqlite_attach": {}, "postgres_scan": {},
	"postgres_attach": {}, "mysql_scan": {}, "parquet_scan": {}, "parquet_metadata": {},
	"parquet_schema": {}, "parquet_file_metadata": {}, "parquet_kv_metadata": {},
	"iceberg_scan": {}, "delta_scan": {}, "load_extension": {}, "readfile": {},
	"writefile": {}, "getenv": {}, "query": {}, "query_table": {}, "current_setting": {},
	"set_config": {}, "pg_read_file": {}, "pg_read_binary_file": {}, "pg_ls_dir": {},
	"lo_import": {}, "lo_export": {}, "dblink": {}, "fts_main": {},
}

var deniedFunctionPrefixes = []string{"read_", "duckdb_", "pragma_", "sqlite_", "pg_"}

// analysis is what the validator needs to know about the top-level row
// bound once the statement passed every check.
type analysis struct {
	// bounded is set when the top-level query carries a LIMIT or FETCH with
	// a count other than ALL or NULL.
	bounded bool
	// nullLimitAt is the byte offset of the ALL or NULL in an unbounded
	// LIMIT clause, or -1.
	nullLimitAt int
	hasOffset   bool
}

// analyze parses sql with the PostgreSQL grammar and checks the statement
// shape, the functions it calls and every identifier it references.
func analyze(sql string, descriptor *schema.Descriptor) (*analysis, error) {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return nil, unsafe("statement does not parse: %v", err)
	}
	switch len(result.GetStmts()) {
	case 0:
		return nil, unsafe("statement is empty")
	case 1:
	default:
		return nil, &ValidationError{Reason: ReasonMultiStatement, Detail: "only one statement is allowed"}
	}
	top := result.GetStmts()[0].GetStmt().GetSelectStmt()
	if top == nil {
		return nil, unsafe("only SELECT statements are allowed")
	}

	var shapeErr error
	walk(result.ProtoReflect(), func(msg proto.Message) bool {
		if shapeErr != nil {
			return false
		}
		shapeErr = checkShape(msg)
		return shapeErr == nil
	})
	if shapeErr != nil {
		return nil, shapeErr
	}

	r := &resolver{descriptor: descriptor}
	if _, err := r.selectStmt(top, nil); err != nil {
		return nil, err
	}

	a := &analysis{nullLimitAt: -1, hasOffset: top.GetLimitOffset() != nil}
	if count := top.GetLimitCount(); count != nil {
		if c := count.GetAConst(); c != nil && c.GetIsnull() {
			a.nullLimitAt = int(c.GetLocation())
		} else {
			a.bounded = true
		}
	}
	return a, nil
}

func checkShape(msg proto.Message) error {
	switch node := msg.(type) {
	case *pg_query.SelectStmt:
		if node.GetIntoClause() != nil {
			return unsafe("SELECT INTO is not allowed")
		}
		if len(node.GetLockingClause()) > 0 {
			return unsafe("locking clauses are not allowed")
		}
	case *pg_query.CommonTableExpr:
		if node.GetCtequery().GetSelectStmt() == nil {
			return unsafe("common table expression %q must be a SELECT", node.GetCtename())
		}
	case *pg_query.RangeFunction:
		return unsafe("table functions are not allowed in FROM")
	case *pg_query.FuncCall:
		if name := functionName(node); isDeniedFunction(name) {
			return unsafe("function %s is not allowed", name)
		}
	}
	return nil
}

func functionName(call *pg_query.FuncCall) string {
	names := stringList(call.GetFuncname())
	if len(names) == 0 {
		return ""
	}
	return names[len(names)-1]
}

func isDeniedFunction(name string) bool {
	if _, ok := deniedFunctions[name]; ok {
		return true
	}
	for _, prefix := range deniedFunctionPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func stringList(nodes []*pg_query.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, node := range nodes {
		if s := node.GetString_(); s != nil {
			out = append(out, strings.ToLower(s.GetSval()))
		}
	}
	return out
}

// walk visits every message reachable from m, depth first. Returning false
// from visit skips the children of that message.
func walk(m protoreflect.Message, visit func(proto.Message) bool) {
	if !m.IsValid() || !visit(m.Interface()) {
		return
	}
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		switch {
		case fd.IsMap():
		case fd.IsList() && fd.Message() != nil:
			list := v.List()
			for i := 0; i < list.Len(); i++ {
				walk(list.Get(i).Message(), visit)
			}
		case fd.Message() != nil:
			walk(v.Message(), visit)
		}
		return true
	})
}
