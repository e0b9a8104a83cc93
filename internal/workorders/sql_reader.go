package workorders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLReader reads work orders from the work_orders table.
type SQLReader struct {
	pool *pgxpool.Pool
}

var _ Reader = (*SQLReader)(nil)

func NewSQLReader(pool *pgxpool.Pool) *SQLReader {
	return &SQLReader{pool: pool}
}

const workOrderColumns = `id, number, status, line, part_no, created_utc, due_utc`

func (r *SQLReader) Search(ctx context.Context, req PageRequest) (PageResult, error) {
	req, err := req.normalize()
	if err != nil {
		return PageResult{}, err
	}

	where, args := searchFilter(req)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM work_orders`+where, args...).Scan(&total); err != nil {
		return PageResult{}, fmt.Errorf("failed to count work orders: %w", err)
	}

	limitAt := len(args) + 1
	query := fmt.Sprintf(`SELECT %s FROM work_orders%s ORDER BY created_utc DESC, id LIMIT $%d OFFSET $%d`,
		workOrderColumns, where, limitAt, limitAt+1)
	rows, err := r.pool.Query(ctx, query, append(args, req.PageSize, req.offset())...)
	if err != nil {
		return PageResult{}, fmt.Errorf("failed to query work orders: %w", err)
	}
	defer rows.Close()

	result := emptyPage(req)
	result.TotalCount = total
	for rows.Next() {
		var wo WorkOrder
		if err := rows.Scan(&wo.ID, &wo.Number, &wo.Status, &wo.Line, &wo.PartNo, &wo.CreatedUtc, &wo.DueUtc); err != nil {
			return PageResult{}, fmt.Errorf("failed to scan work order: %w", err)
		}
		result.Items = append(result.Items, wo)
	}
	if err := rows.Err(); err != nil {
		return PageResult{}, fmt.Errorf("failed to read work orders: %w", err)
	}
	return result, nil
}

func (r *SQLReader) Get(ctx context.Context, id string) (*WorkOrder, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidID
	}

	var wo WorkOrder
	err := r.pool.QueryRow(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id = $1`, id).
		Scan(&wo.ID, &wo.Number, &wo.Status, &wo.Line, &wo.PartNo, &wo.CreatedUtc, &wo.DueUtc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work order %s: %w", id, err)
	}
	return &wo, nil
}

// searchFilter builds the WHERE clause for req. The search term matches
// anywhere in the order number or part number; the other filters are exact.
func searchFilter(req PageRequest) (string, []any) {
	var conds []string
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if req.Search != "" {
		p := next(likePattern(req.Search))
		conds = append(conds, fmt.Sprintf("(number ILIKE %s OR part_no ILIKE %s)", p, p))
	}
	if req.Status != "" {
		conds = append(conds, "status = "+next(req.Status))
	}
	if req.Line != "" {
		conds = append(conds, "line = "+next(req.Line))
	}
	if req.PartNo != "" {
		conds = append(conds, "part_no = "+next(req.PartNo))
	}
	if req.FromUTC != nil {
		conds = append(conds, "created_utc >= "+next(req.FromUTC.UTC()))
	}
	if req.ToUTC != nil {
		conds = append(conds, "created_utc <= "+next(req.ToUTC.UTC()))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern matches s as a literal substring.
func likePattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
