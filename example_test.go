package mapper4go_test

import (
	"context"
	"fmt"

	mapper4go "github.com/ammar0144/mapper4go"
	"github.com/ammar0144/mapper4go/pkg/config"
	"github.com/ammar0144/mapper4go/pkg/db"
	"github.com/ammar0144/mapper4go/pkg/mapping"
	"github.com/ammar0144/mapper4go/pkg/repository"
)

const exampleConfig = `
database:
  default:
    driver: sqlite
    database: ":memory:"
    max_open_conns: 1
    max_idle_conns: 1
mapper:
  transactions: required
`

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func Example() {
	ctx := context.Background()
	cfg, err := config.Parse([]byte(exampleConfig))
	check(err)
	client, err := mapper4go.Open(cfg)
	check(err)
	defer client.Close()

	adapter, err := client.Adapter("", "")
	check(err)
	_, err = adapter.(*db.SQLAdapter).DB().Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, email TEXT NOT NULL)`)
	check(err)

	users, err := mapper4go.Define("User").
		Column("id", mapping.Int()).
		Column("email", mapping.String()).
		Build()
	check(err)
	_, err = client.Register("User", users)
	check(err)

	u, err := client.Begin()
	check(err)
	mp, err := u.Mapper("User")
	check(err)
	ada := mp.New()
	ada.Set("email", "ada@example.com")
	check(mp.Store(ctx, ada))
	fmt.Println(ada.Key())

	next, err := client.Begin()
	check(err)
	repo, err := mapper4go.NewRepository(next, "User", repository.Entities)
	check(err)
	found, err := repo.FindByID(ctx, 1)
	check(err)
	fmt.Println(found.String("email"))
	// Output:
	// 1
	// ada@example.com
}
