package memory

import "github.com/vladislavdragonenkov/storefront/internal/domain"

// DemoUsers - пользователи для локального запуска с memory-хранилищем.
func DemoUsers() []domain.User {
	return []domain.User{
		{ID: "user-alice", Email: "alice@example.com", Name: "Alice"},
		{ID: "user-bob", Email: "bob@example.com", Name: "Bob"},
	}
}

// DemoProducts - демо-каталог.
func DemoProducts() []domain.Product {
	return []domain.Product{
		{ID: "prod-mug", Name: "Ceramic mug", Category: "kitchen", Description: "350 ml stoneware mug", PriceMinor: 1299, Stock: 40},
		{ID: "prod-kettle", Name: "Kettle", Category: "kitchen", Description: "1.7 l electric kettle", PriceMinor: 4599, Stock: 8},
		{ID: "prod-lamp", Name: "Desk lamp", Category: "home", Description: "LED lamp with dimmer", PriceMinor: 3150, Stock: 12},
		{ID: "prod-poster", Name: "Limited poster", Category: "art", Description: "Signed print, single copy", PriceMinor: 9900, Stock: 1},
	}
}

// Seed заполняет хранилище пользователями и товарами.
func (s *Store) Seed(users []domain.User, products []domain.Product) {
	for _, u := range users {
		s.PutUser(u)
	}
	for _, p := range products {
		s.PutProduct(p)
	}
}
