package main

import (
	"fmt"
	"log"
	"os"

	"github.com/theflywheel/segmap"
)

func main() {
	os.Remove("example.segmap")

	m, err := segmap.NewBuilder[uint64, uint64](segmap.Uint64Codec(), segmap.Uint64Codec()).
		WithEntries(1024).
		WithActualSegments(4).
		Build("example.segmap")
	if err != nil {
		log.Fatalf("failed to build map: %v", err)
	}
	defer m.Close()

	fmt.Println("map opened successfully")

	for i := uint64(0); i < 10; i++ {
		if _, _, err := m.Put(i, i*100); err != nil {
			log.Fatalf("failed to insert key %d: %v", i, err)
		}
	}
	fmt.Println("inserted 10 key-value pairs")

	for i := uint64(0); i < 15; i += 2 {
		value, found, err := m.Get(i)
		if err != nil {
			log.Fatalf("get %d: %v", i, err)
		}
		if found {
			fmt.Printf("key %d => value %d\n", i, value)
		} else {
			fmt.Printf("key %d not found\n", i)
		}
	}

	if _, _, err := m.Put(2, 999); err != nil {
		log.Fatalf("failed to update key: %v", err)
	}

	value, found, err := m.Get(2)
	if err != nil {
		log.Fatalf("get 2: %v", err)
	}
	if found {
		fmt.Printf("updated key 2 => value %d\n", value)
	}

	fmt.Printf("size=%d\n", m.Size())
	fmt.Println("example completed successfully")
}
