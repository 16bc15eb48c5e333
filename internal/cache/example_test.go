package cache_test

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/J4sp3rd3v/cutburn-sub000/internal/cache"
)

// Example_basicUsage stores a record and reads it back after reopening.
func Example_basicUsage() {
	dir, err := os.MkdirTemp("", "cutburn-cache-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "cache.db")

	c, err := cache.Open(path, nil)
	if err != nil {
		log.Fatal(err)
	}
	day := map[string]any{"date": "2024-06-01", "water_ml": 750}
	if err := c.SetJSON(cache.ProgressKey("u-1", "2024-06-01"), day); err != nil {
		log.Fatal(err)
	}
	c.Close()

	// The cache survives a restart.
	c, err = cache.Open(path, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	var got struct {
		Date    string `json:"date"`
		WaterMl int    `json:"water_ml"`
	}
	if c.GetJSON(cache.ProgressKey("u-1", "2024-06-01"), &got) {
		fmt.Printf("%s: %d ml\n", got.Date, got.WaterMl)
	}

	keys, _ := c.Keys(cache.ProgressPrefix("u-1"))
	for _, k := range keys {
		date, _ := cache.DateFromProgressKey("u-1", k)
		fmt.Println("day:", date)
	}

	// Output:
	// 2024-06-01: 750 ml
	// day: 2024-06-01
}
