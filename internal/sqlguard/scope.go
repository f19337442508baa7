package sqlguard

import (
	"slices"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/proto"

	"github.com/statline/statline/internal/schema"
)

// columns is an ordered list of lower-case column names.
type columns []string

func (c columns) has(name string) bool { return slices.Contains(c, name) }

// relation is one FROM item as column references see it. A published table
// carries its name in table; a CTE, subquery or renamed table carries its
// columns instead.
type relation struct {
	name    string
	table   string
	columns columns
}

// scope is one SELECT: the CTEs its WITH clause defines and the relations
// its FROM clause brings in. Column references look outward through parent
// for correlated subqueries.
type scope struct {
	parent    *scope
	ctes      map[string]columns
	relations []relation
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, ctes: map[string]columns{}}
}

func (s *scope) cte(name string) (columns, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if cols, ok := cur.ctes[name]; ok {
			return cols, true
		}
	}
	return nil, false
}

// resolver checks that every relation and column a statement names exists
// where it is referenced.
type resolver struct {
	descriptor *schema.Descriptor
}

// selectStmt resolves stmt inside parent and returns the columns it exposes.
func (r *resolver) selectStmt(stmt *pg_query.SelectStmt, parent *scope) (columns, error) {
	s := newScope(parent)
	if err := r.withClause(stmt.GetWithClause(), s); err != nil {
		return nil, err
	}
	if stmt.GetOp() != pg_query.SetOperation_SETOP_NONE {
		return r.setOperation(stmt, s)
	}

	for _, item := range stmt.GetFromClause() {
		if err := r.fromItem(item, s); err != nil {
			return nil, err
		}
	}
	clauses := [][]*pg_query.Node{
		stmt.GetTargetList(),
		{stmt.GetWhereClause(), stmt.GetHavingClause(), stmt.GetLimitCount(), stmt.GetLimitOffset()},
		stmt.GetWindowClause(),
		stmt.GetDistinctClause(),
		stmt.GetValuesLists(),
	}
	for _, nodes := range clauses {
		if err := r.exprs(nodes, s, nil); err != nil {
			return nil, err
		}
	}

	out := r.outputs(stmt, s)
	// Output names are visible to GROUP BY and ORDER BY only.
	if err := r.exprs(stmt.GetGroupClause(), s, out); err != nil {
		return nil, err
	}
	if err := r.exprs(stmt.GetSortClause(), s, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *resolver) setOperation(stmt *pg_query.SelectStmt, s *scope) (columns, error) {
	left, err := r.selectStmt(stmt.GetLarg(), s)
	if err != nil {
		return nil, err
	}
	if _, err := r.selectStmt(stmt.GetRarg(), s); err != nil {
		return nil, err
	}
	combined := newScope(s)
	combined.relations = append(combined.relations, relation{columns: left})
	if err := r.exprs(stmt.GetSortClause(), combined, nil); err != nil {
		return nil, err
	}
	if err := r.exprs([]*pg_query.Node{stmt.GetLimitCount(), stmt.GetLimitOffset()}, s, nil); err != nil {
		return nil, err
	}
	return left, nil
}

func (r *resolver) withClause(with *pg_query.WithClause, s *scope) error {
	if with == nil {
		return nil
	}
	for _, node := range with.GetCtes() {
		cte := node.GetCommonTableExpr()
		query := cte.GetCtequery().GetSelectStmt()
		if cte == nil || query == nil {
			return unsafe("common table expressions must be SELECT")
		}
		name := strings.ToLower(cte.GetCtename())
		names := stringList(cte.GetAliascolnames())
		if with.GetRecursive() && query.GetOp() != pg_query.SetOperation_SETOP_NONE {
			seed, err := r.selectStmt(query.GetLarg(), s)
			if err != nil {
				return err
			}
			s.ctes[name] = rename(seed, names)
		}
		cols, err := r.selectStmt(query, s)
		if err != nil {
			return err
		}
		s.ctes[name] = rename(cols, names)
	}
	return nil
}

func (r *resolver) fromItem(node *pg_query.Node, s *scope) error {
	switch {
	case node.GetRangeVar() != nil:
		rel, err := r.rangeVar(node.GetRangeVar(), s)
		if err != nil {
			return err
		}
		s.relations = append(s.relations, rel)
	case node.GetRangeSubselect() != nil:
		sub := node.GetRangeSubselect()
		query := sub.GetSubquery().GetSelectStmt()
		if query == nil {
			return unsafe("subqueries in FROM must be SELECT")
		}
		// Only a LATERAL subquery sees the FROM items before it.
		inner := &scope{parent: s.parent, ctes: s.ctes}
		if sub.GetLateral() {
			inner = s
		}
		cols, err := r.selectStmt(query, inner)
		if err != nil {
			return err
		}
		rel := relation{columns: cols}
		if alias := sub.GetAlias(); alias != nil {
			rel.name = strings.ToLower(alias.GetAliasname())
			rel.columns = rename(cols, stringList(alias.GetColnames()))
		}
		s.relations = append(s.relations, rel)
	case node.GetJoinExpr() != nil:
		join := node.GetJoinExpr()
		mark := len(s.relations)
		if err := r.fromItem(join.GetLarg(), s); err != nil {
			return err
		}
		if err := r.fromItem(join.GetRarg(), s); err != nil {
			return err
		}
		joined := append([]relation(nil), s.relations[mark:]...)
		for _, name := range stringList(join.GetUsingClause()) {
			if !r.visibleIn(joined, name) {
				return unknown("column %s in USING does not exist", name)
			}
		}
		if err := r.exprs([]*pg_query.Node{join.GetQuals()}, s, nil); err != nil {
			return err
		}
		if alias := join.GetAlias(); alias != nil && alias.GetAliasname() != "" {
			for _, rel := range joined {
				rel.name = strings.ToLower(alias.GetAliasname())
				s.relations = append(s.relations, rel)
			}
		}
	case node.GetRangeFunction() != nil:
		return unsafe("table functions are not allowed in FROM")
	default:
		return unsafe("unsupported FROM item")
	}
	return nil
}

func (r *resolver) rangeVar(rv *pg_query.RangeVar, s *scope) (relation, error) {
	if rv.GetCatalogname() != "" {
		return relation{}, unknown("relation %s.%s.%s is outside the published schema", rv.GetCatalogname(), rv.GetSchemaname(), rv.GetRelname())
	}
	schemaName := rv.GetSchemaname()
	if schemaName != "" && !strings.EqualFold(schemaName, "main") {
		return relation{}, unknown("relation %s.%s is outside the published schema", schemaName, rv.GetRelname())
	}

	name := strings.ToLower(rv.GetRelname())
	rel := relation{name: name}
	if cols, isCTE := s.cte(name); isCTE && schemaName == "" {
		rel.columns = cols
	} else if r.descriptor.HasTable(name) {
		rel.table = name
	} else {
		return relation{}, unknown("table %s does not exist", rv.GetRelname())
	}

	if alias := rv.GetAlias(); alias != nil {
		if alias.GetAliasname() != "" {
			rel.name = strings.ToLower(alias.GetAliasname())
		}
		if names := stringList(alias.GetColnames()); len(names) > 0 {
			rel.columns = rename(r.columnsOf(rel), names)
			rel.table = ""
		}
	}
	return rel, nil
}

// exprs resolves every column reference in nodes against s. Subqueries get
// their own scope with s as parent. outputs lists the select-list names the
// clause may also use.
func (r *resolver) exprs(nodes []*pg_query.Node, s *scope, outputs columns) error {
	var err error
	for _, node := range nodes {
		if node == nil {
			continue
		}
		walk(node.ProtoReflect(), func(msg proto.Message) bool {
			if err != nil {
				return false
			}
			switch n := msg.(type) {
			case *pg_query.SelectStmt:
				_, err = r.selectStmt(n, s)
				return false
			case *pg_query.ColumnRef:
				err = r.columnRef(n, s, outputs)
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *resolver) columnRef(ref *pg_query.ColumnRef, s *scope, outputs columns) error {
	parts, star := refParts(ref)
	if len(parts) == 3 || (star && len(parts) == 2) {
		if parts[0] != "main" {
			return unknown("column %s is outside the published schema", strings.Join(parts, "."))
		}
		parts = parts[1:]
	}

	switch {
	case len(parts) == 0 && star:
		return nil
	case len(parts) == 1 && star:
		if _, ok := qualified(s, parts[0]); !ok {
			return unknown("table or alias %s is not in the query", parts[0])
		}
		return nil
	case len(parts) == 1:
		if r.unqualified(s, parts[0]) || outputs.has(parts[0]) {
			return nil
		}
		return unknown("column %s does not exist in the referenced tables", parts[0])
	case len(parts) == 2:
		rels, ok := qualified(s, parts[0])
		if !ok {
			return unknown("table or alias %s is not in the query", parts[0])
		}
		if r.visibleIn(rels, parts[1]) {
			return nil
		}
		return unknown("column %s.%s does not exist", parts[0], parts[1])
	default:
		return unknown("column reference %s is not supported", strings.Join(parts, "."))
	}
}

// qualified returns the relations named name in the nearest scope that has
// any.
func qualified(s *scope, name string) ([]relation, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		var found []relation
		for _, rel := range cur.relations {
			if rel.name == name {
				found = append(found, rel)
			}
		}
		if len(found) > 0 {
			return found, true
		}
	}
	return nil, false
}

func (r *resolver) unqualified(s *scope, column string) bool {
	for cur := s; cur != nil; cur = cur.parent {
		if r.visibleIn(cur.relations, column) {
			return true
		}
	}
	return false
}

func (r *resolver) visibleIn(rels []relation, column string) bool {
	for _, rel := range rels {
		if rel.table != "" {
			if r.descriptor.HasColumn(rel.table, column) {
				return true
			}
			continue
		}
		if rel.columns.has(column) {
			return true
		}
	}
	return false
}

func (r *resolver) columnsOf(rel relation) columns {
	if rel.table == "" {
		return rel.columns
	}
	table, _ := r.descriptor.Table(rel.table)
	out := make(columns, 0, len(table.Columns))
	for _, column := range table.Columns {
		out = append(out, strings.ToLower(column.Name))
	}
	return out
}

// outputs returns the names a resolved SELECT exposes to the query around
// it. Stars expand to the columns of the relations they cover.
func (r *resolver) outputs(stmt *pg_query.SelectStmt, s *scope) columns {
	var out columns
	for _, target := range stmt.GetTargetList() {
		res := target.GetResTarget()
		if res == nil {
			continue
		}
		if name := res.GetName(); name != "" {
			out = append(out, strings.ToLower(name))
			continue
		}
		val := res.GetVal()
		if cast := val.GetTypeCast(); cast != nil {
			val = cast.GetArg()
		}
		switch {
		case val.GetColumnRef() != nil:
			parts, star := refParts(val.GetColumnRef())
			switch {
			case !star:
				out = append(out, parts[len(parts)-1])
			case len(parts) == 0:
				for _, rel := range s.relations {
					out = append(out, r.columnsOf(rel)...)
				}
			default:
				rels, _ := qualified(s, parts[len(parts)-1])
				for _, rel := range rels {
					out = append(out, r.columnsOf(rel)...)
				}
			}
		case val.GetFuncCall() != nil:
			out = append(out, functionName(val.GetFuncCall()))
		}
	}
	return out
}

func refParts(ref *pg_query.ColumnRef) ([]string, bool) {
	var parts []string
	star := false
	for _, field := range ref.GetFields() {
		switch {
		case field.GetAStar() != nil:
			star = true
		case field.GetString_() != nil:
			parts = append(parts, strings.ToLower(field.GetString_().GetSval()))
		}
	}
	return parts, star
}

// rename applies an alias column list positionally; columns past its end
// keep their names.
func rename(cols columns, names []string) columns {
	out := append(columns(nil), cols...)
	for i, name := range names {
		if i < len(out) {
			out[i] = name
		} else {
			out = append(out, name)
		}
	}
	return out
}
