// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mbeema/ollyhook/pkg/typereg"
	"go.uber.org/zap"
)

const (
	wifiTask  = "com.google.progress.WifiCheckTask"
	inventory = "demo.Inventory"
)

var errOutOfStock = errors.New("out of stock")

// Inventory is a sample Go type exposed through the reflection registry.
type Inventory struct {
	mu    sync.Mutex
	stock map[string]int
}

// Reserve takes qty units of sku and returns what is left.
func (inv *Inventory) Reserve(sku string, qty int) (int, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.stock[sku] < qty {
		return inv.stock[sku], fmt.Errorf("reserve %d %s: %w", qty, sku, errOutOfStock)
	}
	inv.stock[sku] -= qty
	return inv.stock[sku], nil
}

// Restock adds qty units of sku.
func (inv *Inventory) Restock(sku string, qty int) {
	inv.mu.Lock()
	inv.stock[sku] += qty
	inv.mu.Unlock()
}

// newDemoRegistry builds the registry the agent hooks when no host
// application embeds it: a Java-style task with two overloads plus a
// reflected Go type.
func newDemoRegistry() (*typereg.Reflect, error) {
	r := typereg.NewReflect()

	r.DefineFunc(wifiTask, "checkWifiCanOrNotConnectServer", []string{"java.lang.String"},
		func(_ any, args []any) (any, error) {
			host, _ := args[0].(string)
			return host != "", nil
		})
	r.DefineFunc(wifiTask, "checkWifiCanOrNotConnectServer", []string{"java.lang.String", "int"},
		func(_ any, args []any) (any, error) {
			host, _ := args[0].(string)
			port, _ := args[1].(int)
			return host != "" && port > 0 && port < 65536, nil
		})

	if _, err := r.RegisterType(inventory, &Inventory{}); err != nil {
		return nil, err
	}
	return r, nil
}

type demoCall struct {
	ov   typereg.Overload
	recv any
	args []any
}

// runWorkload invokes the demo methods on every tick so installed hooks
// have traffic to report.
func runWorkload(ctx context.Context, types typereg.TypeRegistry, interval time.Duration, logger *zap.Logger) {
	check1 := typereg.Overload{Owner: wifiTask, Name: "checkWifiCanOrNotConnectServer", Params: []string{"java.lang.String"}}
	check2 := typereg.Overload{Owner: wifiTask, Name: "checkWifiCanOrNotConnectServer", Params: []string{"java.lang.String", "int"}}
	reserve := typereg.Overload{Owner: inventory, Name: "Reserve", Params: []string{"string", "int"}}
	restock := typereg.Overload{Owner: inventory, Name: "Restock", Params: []string{"string", "int"}}

	inv := &Inventory{stock: map[string]int{"sku-1": 10}}
	hosts := []any{"api.example.com", nil, "10.0.0.1"}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		host := hosts[i%len(hosts)]
		calls := []demoCall{
			{check1, nil, []any{host}},
			{check2, nil, []any{host, 443}},
			{reserve, inv, []any{"sku-1", 3}},
		}
		if i%4 == 3 {
			calls = append(calls, demoCall{restock, inv, []any{"sku-1", 10}})
		}

		for _, c := range calls {
			ret, err := types.Invoke(c.ov, c.recv, c.args)
			if err != nil && !errors.Is(err, errOutOfStock) {
				logger.Warn("workload call failed", zap.String("method", c.ov.String()), zap.Error(err))
				continue
			}
			logger.Debug("workload call",
				zap.String("method", c.ov.String()),
				zap.String("result", strings.TrimSpace(fmt.Sprint(ret))),
			)
		}
	}
}
