package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type (
	// PoolOps is the subset of pgxpool.Pool the store uses.
	// pgxmock pools satisfy it in tests.
	PoolOps interface {
		querier
		Begin(ctx context.Context) (pgx.Tx, error)
		Ping(ctx context.Context) error
	}

	// querier is implemented by both pools and transactions.
	querier interface {
		Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
		QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
		Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	}
)

// PostgresStore is a PostgreSQL implementation of the Store interface built on
// squirrel for query building and scany for row mapping.
type PostgresStore struct {
	pool PoolOps
	now  func() time.Time
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool PoolOps) *PostgresStore {
	return &PostgresStore{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

var userColumns = []string{
	"id", "email", "phone", "first_name", "last_name", "marketing_opt_in",
	"shipping_state", "shipping_country", "total_order_value", "order_count",
	"last_order_date", "attributes", "created_at",
}

type userRow struct {
	ID              string     `db:"id"`
	Email           string     `db:"email"`
	Phone           *string    `db:"phone"`
	FirstName       string     `db:"first_name"`
	LastName        string     `db:"last_name"`
	MarketingOptIn  bool       `db:"marketing_opt_in"`
	ShippingState   *string    `db:"shipping_state"`
	ShippingCountry *string    `db:"shipping_country"`
	TotalOrderValue float64    `db:"total_order_value"`
	OrderCount      int        `db:"order_count"`
	LastOrderDate   *time.Time `db:"last_order_date"`
	Attributes      []byte     `db:"attributes"`
	CreatedAt       time.Time  `db:"created_at"`
}

func (r userRow) toUser() (User, error) {
	u := User{
		ID:              r.ID,
		Email:           r.Email,
		Phone:           r.Phone,
		FirstName:       r.FirstName,
		LastName:        r.LastName,
		MarketingOptIn:  r.MarketingOptIn,
		ShippingState:   r.ShippingState,
		ShippingCountry: r.ShippingCountry,
		TotalOrderValue: r.TotalOrderValue,
		OrderCount:      r.OrderCount,
		LastOrderDate:   r.LastOrderDate,
		CreatedAt:       r.CreatedAt,
	}
	if len(r.Attributes) > 0 {
		if err := json.Unmarshal(r.Attributes, &u.Attributes); err != nil {
			return User{}, fmt.Errorf("decode attributes of user %s: %w", r.ID, err)
		}
	}
	if len(u.Attributes) == 0 {
		u.Attributes = nil
	}
	return u, nil
}

var productColumns = []string{"id", "name", "category", "brand", "price", "created_at"}

type productRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Category  string    `db:"category"`
	Brand     string    `db:"brand"`
	Price     float64   `db:"price"`
	CreatedAt time.Time `db:"created_at"`
}

var orderColumns = []string{
	"id", "user_id", "order_date", "order_status", "total_amount", "currency",
	"channel", "coupon_code", "created_at",
}

type orderRow struct {
	ID          string    `db:"id"`
	UserID      string    `db:"user_id"`
	OrderDate   time.Time `db:"order_date"`
	OrderStatus string    `db:"order_status"`
	TotalAmount float64   `db:"total_amount"`
	Currency    string    `db:"currency"`
	Channel     string    `db:"channel"`
	CouponCode  *string   `db:"coupon_code"`
	CreatedAt   time.Time `db:"created_at"`
}

var orderItemColumns = []string{"id", "order_id", "product_id", "quantity", "unit_price"}

type orderItemRow struct {
	ID        string  `db:"id"`
	OrderID   string  `db:"order_id"`
	ProductID string  `db:"product_id"`
	Quantity  int     `db:"quantity"`
	UnitPrice float64 `db:"unit_price"`
}

// selectAll runs a select built with squirrel and scans every row into dst.
func selectAll(ctx context.Context, q querier, dst any, b sq.SelectBuilder) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build select query: %w", err)
	}
	return pgxscan.Select(ctx, q, dst, query, args...)
}

// selectOne scans exactly one row; a missing row is reported as ErrNotFound.
func selectOne(ctx context.Context, q querier, dst any, b sq.SelectBuilder, entity, id string) error {
	query, args, err := b.Limit(1).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build select query: %w", err)
	}
	if err := pgxscan.Get(ctx, q, dst, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return notFound(entity, id)
		}
		return fmt.Errorf("get %s %s: %w", entity, id, err)
	}
	return nil
}

// exec runs a write statement. A statement that touches no rows yields
// ErrNotFound when requireRow is set.
func exec(ctx context.Context, q querier, b sq.Sqlizer, entity, id string, requireRow bool) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build %s query: %w", entity, err)
	}
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return writeError(entity, id, err)
	}
	if requireRow && tag.RowsAffected() == 0 {
		return notFound(entity, id)
	}
	return nil
}

// writeError maps constraint violations onto the store sentinels.
func writeError(entity, id string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return fmt.Errorf("%w: %s %s already exists", ErrConflict, entity, id)
		case pgerrcode.ForeignKeyViolation:
			if pgErr.Detail != "" {
				return fmt.Errorf("%w: %s %s: %s", ErrConflict, entity, id, pgErr.Detail)
			}
			return fmt.Errorf("%w: %s %s is referenced", ErrConflict, entity, id)
		}
	}
	return fmt.Errorf("write %s %s: %w", entity, id, err)
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte(emptyJSONObject), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return []byte(emptyJSONObject), nil
	}
	return b, nil
}

func (p *PostgresStore) stamp(id *string, created *time.Time) {
	if *id == "" {
		*id = uuid.NewString()
	}
	if created.IsZero() {
		*created = p.now()
	}
}

// inTx runs fn inside a transaction and commits when it returns nil.
func (p *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// --- Users ---

func (p *PostgresStore) ListUsers(ctx context.Context, filter UserFilter) ([]User, error) {
	b := psql.Select(userColumns...).From("users").OrderBy("created_at", "id")
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		b = b.Where(sq.Or{
			sq.ILike{"email": pattern},
			sq.ILike{"first_name": pattern},
			sq.ILike{"last_name": pattern},
		})
	}
	if filter.Skip > 0 {
		b = b.Offset(uint64(filter.Skip))
	}
	if filter.Limit > 0 {
		b = b.Limit(uint64(filter.Limit))
	}
	return p.queryUsers(ctx, b)
}

func (p *PostgresStore) AllUsers(ctx context.Context) ([]User, error) {
	return p.queryUsers(ctx, psql.Select(userColumns...).From("users").OrderBy("created_at", "id"))
}

func (p *PostgresStore) queryUsers(ctx context.Context, b sq.SelectBuilder) ([]User, error) {
	var rows []userRow
	if err := selectAll(ctx, p.pool, &rows, b); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users := make([]User, 0, len(rows))
	for _, r := range rows {
		u, err := r.toUser()
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

func (p *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	var row userRow
	b := psql.Select(userColumns...).From("users").Where(sq.Eq{"id": id})
	if err := selectOne(ctx, p.pool, &row, b, "user", id); err != nil {
		return nil, err
	}
	u, err := row.toUser()
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	p.stamp(&u.ID, &u.CreatedAt)
	attrs, err := marshalJSON(u.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	b := psql.Insert("users").Columns(userColumns...).Values(
		u.ID, u.Email, u.Phone, u.FirstName, u.LastName, u.MarketingOptIn,
		u.ShippingState, u.ShippingCountry, u.TotalOrderValue, u.OrderCount,
		u.LastOrderDate, attrs, u.CreatedAt,
	)
	if err := exec(ctx, p.pool, b, "user", u.Email, false); err != nil {
		return err
	}
	return nil
}

func (p *PostgresStore) UpdateUser(ctx context.Context, id string, patch UserPatch) (*User, error) {
	u, err := p.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	patch.Apply(u)

	attrs, err := marshalJSON(u.Attributes)
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	b := psql.Update("users").
		Set("email", u.Email).
		Set("phone", u.Phone).
		Set("first_name", u.FirstName).
		Set("last_name", u.LastName).
		Set("marketing_opt_in", u.MarketingOptIn).
		Set("shipping_state", u.ShippingState).
		Set("shipping_country", u.ShippingCountry).
		Set("attributes", attrs).
		Where(sq.Eq{"id": id})
	if err := exec(ctx, p.pool, b, "user", id, true); err != nil {
		return nil, err
	}
	return u, nil
}

func (p *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	return exec(ctx, p.pool, psql.Delete("users").Where(sq.Eq{"id": id}), "user", id, true)
}

// --- Products ---

func (p *PostgresStore) ListProducts(ctx context.Context) ([]Product, error) {
	var rows []productRow
	if err := selectAll(ctx, p.pool, &rows, psql.Select(productColumns...).From("products").OrderBy("created_at", "id")); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	products := make([]Product, 0, len(rows))
	for _, r := range rows {
		products = append(products, Product(r))
	}
	return products, nil
}

func (p *PostgresStore) GetProduct(ctx context.Context, id string) (*Product, error) {
	var row productRow
	b := psql.Select(productColumns...).From("products").Where(sq.Eq{"id": id})
	if err := selectOne(ctx, p.pool, &row, b, "product", id); err != nil {
		return nil, err
	}
	product := Product(row)
	return &product, nil
}

func (p *PostgresStore) CreateProduct(ctx context.Context, pr *Product) error {
	p.stamp(&pr.ID, &pr.CreatedAt)
	b := psql.Insert("products").Columns(productColumns...).
		Values(pr.ID, pr.Name, pr.Category, pr.Brand, pr.Price, pr.CreatedAt)
	return exec(ctx, p.pool, b, "product", pr.ID, false)
}

func (p *PostgresStore) DeleteProduct(ctx context.Context, id string) error {
	return exec(ctx, p.pool, psql.Delete("products").Where(sq.Eq{"id": id}), "product", id, true)
}

// --- Orders ---

func (p *PostgresStore) ListOrders(ctx context.Context, userID string) ([]Order, error) {
	b := psql.Select(orderColumns...).From("orders").OrderBy("order_date", "id")
	if userID != "" {
		b = b.Where(sq.Eq{"user_id": userID})
	}
	var rows []orderRow
	if err := selectAll(ctx, p.pool, &rows, b); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if len(rows) == 0 {
		return []Order{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	items, err := p.itemsByOrder(ctx, ids)
	if err != nil {
		return nil, err
	}

	orders := make([]Order, 0, len(rows))
	for _, r := range rows {
		o := Order{
			ID:          r.ID,
			UserID:      r.UserID,
			OrderDate:   r.OrderDate,
			OrderStatus: r.OrderStatus,
			TotalAmount: r.TotalAmount,
			Currency:    r.Currency,
			Channel:     r.Channel,
			CouponCode:  r.CouponCode,
			Items:       items[r.ID],
			CreatedAt:   r.CreatedAt,
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (p *PostgresStore) itemsByOrder(ctx context.Context, orderIDs []string) (map[string][]OrderItem, error) {
	var rows []orderItemRow
	b := psql.Select(orderItemColumns...).From("order_items").Where(sq.Eq{"order_id": orderIDs}).OrderBy("id")
	if err := selectAll(ctx, p.pool, &rows, b); err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	byOrder := make(map[string][]OrderItem, len(orderIDs))
	for _, r := range rows {
		byOrder[r.OrderID] = append(byOrder[r.OrderID], OrderItem(r))
	}
	return byOrder, nil
}

func (p *PostgresStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	var row orderRow
	b := psql.Select(orderColumns...).From("orders").Where(sq.Eq{"id": id})
	if err := selectOne(ctx, p.pool, &row, b, "order", id); err != nil {
		return nil, err
	}
	items, err := p.itemsByOrder(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	return &Order{
		ID:          row.ID,
		UserID:      row.UserID,
		OrderDate:   row.OrderDate,
		OrderStatus: row.OrderStatus,
		TotalAmount: row.TotalAmount,
		Currency:    row.Currency,
		Channel:     row.Channel,
		CouponCode:  row.CouponCode,
		Items:       items[id],
		CreatedAt:   row.CreatedAt,
	}, nil
}

func (p *PostgresStore) CreateOrder(ctx context.Context, o *Order) error {
	p.stamp(&o.ID, &o.CreatedAt)
	if o.OrderDate.IsZero() {
		o.OrderDate = o.CreatedAt
	}
	for i := range o.Items {
		if o.Items[i].ID == "" {
			o.Items[i].ID = uuid.NewString()
		}
		o.Items[i].OrderID = o.ID
	}

	return p.inTx(ctx, func(tx pgx.Tx) error {
		aggregate := psql.Update("users").
			Set("total_order_value", sq.Expr("total_order_value + ?", o.TotalAmount)).
			Set("order_count", sq.Expr("order_count + 1")).
			Set("last_order_date", sq.Expr("GREATEST(COALESCE(last_order_date, ?), ?)", o.OrderDate, o.OrderDate)).
			Where(sq.Eq{"id": o.UserID})
		if err := exec(ctx, tx, aggregate, "user", o.UserID, true); err != nil {
			return err
		}

		insert := psql.Insert("orders").Columns(orderColumns...).Values(
			o.ID, o.UserID, o.OrderDate, o.OrderStatus, o.TotalAmount, o.Currency,
			o.Channel, o.CouponCode, o.CreatedAt,
		)
		if err := exec(ctx, tx, insert, "order", o.ID, false); err != nil {
			return err
		}

		if len(o.Items) == 0 {
			return nil
		}
		items := psql.Insert("order_items").Columns(orderItemColumns...)
		for _, item := range o.Items {
			items = items.Values(item.ID, item.OrderID, item.ProductID, item.Quantity, item.UnitPrice)
		}
		return exec(ctx, tx, items, "order item", o.ID, false)
	})
}

func (p *PostgresStore) ListOrderItems(ctx context.Context, productID string) ([]OrderItem, error) {
	b := psql.Select(orderItemColumns...).From("order_items").OrderBy("id")
	if productID != "" {
		b = b.Where(sq.Eq{"product_id": productID})
	}
	var rows []orderItemRow
	if err := selectAll(ctx, p.pool, &rows, b); err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	items := make([]OrderItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, OrderItem(r))
	}
	return items, nil
}

// Ping checks the database connection.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the database connection pool.
func (p *PostgresStore) Close() error {
	if c, ok := p.pool.(interface{ Close() }); ok {
		c.Close()
	}
	return nil
}
