package domain

// Product - товар внешнего каталога; ядро читает цену и условно списывает остаток.
type Product struct {
	ID          string
	Name        string
	Category    string
	Description string
	// PriceMinor - цена за единицу в минимальных денежных единицах.
	PriceMinor int64
	Stock      int32
}

// User - ядру нужен только факт существования пользователя.
type User struct {
	ID    string
	Email string
	Name  string
}

// ProductRef - ссылка на товар в позиции корзины или заказа: либо только ID,
// либо загруженный товар. Resolved выставляется только явным шагом разрешения.
type ProductRef struct {
	id      string
	product *Product
}

// Reference создаёт неразрешённую ссылку.
func Reference(id string) ProductRef {
	return ProductRef{id: id}
}

// Resolved создаёт ссылку с загруженным товаром.
func Resolved(p Product) ProductRef {
	return ProductRef{id: p.ID, product: &p}
}

// ID возвращает идентификатор товара в обоих вариантах.
func (r ProductRef) ID() string { return r.id }

// Product возвращает товар и true, если ссылка разрешена.
func (r ProductRef) Product() (Product, bool) {
	if r.product == nil {
		return Product{}, false
	}
	return *r.product, true
}

// IsResolved сообщает, загружен ли товар.
func (r ProductRef) IsResolved() bool { return r.product != nil }
