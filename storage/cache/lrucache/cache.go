// Package lrucache keeps current subscriptions in process memory for a short while.
// It only sees reviews made by the process holding it: deployments where the admin CLI
// or several API instances write subscriptions need rediscache instead.
package lrucache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/trezcool/masomo-billing/core/subscription"
)

type Cache struct {
	mu  sync.Mutex // serializes Set's compare-and-add
	lru *expirable.LRU[string, subscription.Subscription]
}

var _ subscription.Cache = (*Cache)(nil)

// New returns a cache of at most size entries, each kept for ttl.
func New(size int, ttl time.Duration) *Cache {
	return &Cache{lru: expirable.NewLRU[string, subscription.Subscription](size, nil, ttl)}
}

func (c *Cache) Get(_ context.Context, studentID string) (subscription.Subscription, bool, error) {
	sub, ok := c.lru.Get(studentID)
	return sub, ok, nil
}

func (c *Cache) Set(_ context.Context, studentID string, sub subscription.Subscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.lru.Peek(studentID); ok && cached.Supersedes(sub) {
		return nil
	}
	c.lru.Add(studentID, sub)
	return nil
}

func (c *Cache) Delete(_ context.Context, studentID string) error {
	c.lru.Remove(studentID)
	return nil
}

func (c *Cache) Len() int {
	return c.lru.Len()
}
