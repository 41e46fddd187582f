package main

import (
	"context"
	"fmt"
	"os"

	"github.com/xmysql-server/fixedkv-btree/logger"
	"github.com/xmysql-server/fixedkv-btree/server/conf"
	"github.com/xmysql-server/fixedkv-btree/server/innodb/bptree"
)

func main() {
	logger.InitLogger(logger.LogConfig{LogLevel: "info"})

	cfg := conf.NewCfg()
	cfg.BtreeMaxEntries = 8
	cfg.BtreeMinEntries = 4
	fanout := bptree.Config{MaxEntries: cfg.BtreeMaxEntries, MinEntries: cfg.BtreeMinEntries}

	ctx := context.Background()
	cache := bptree.NewMemCache()

	fmt.Println("1. mkfs: creating an empty tree")
	mkfsTxn := cache.BeginTransaction(false)
	tree, err := bptree.Mkfs(ctx, cache, mkfsTxn, fanout)
	if err != nil {
		fmt.Printf("mkfs failed: %v\n", err)
		os.Exit(1)
	}
	if err := cache.Commit(mkfsTxn); err != nil {
		fmt.Printf("mkfs commit failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("   ok, depth=%d\n", tree.Depth())

	fmt.Println("2. inserting 200 keys, forcing several splits")
	insTxn := cache.BeginTransaction(false)
	if err := bptree.WithTree(ctx, cache, insTxn, fanout, func(t *bptree.Tree) error {
		for i := 0; i < 200; i++ {
			k := bptree.LogicalAddr(i * 7)
			v := bptree.ExtentRef{Paddr: bptree.PhysAddr(1000 + i), Len: 4096}
			if _, inserted, err := t.Insert(ctx, insTxn, k, v); err != nil {
				return err
			} else if !inserted {
				return fmt.Errorf("key %d unexpectedly already present", k)
			}
		}
		if err := t.CheckInvariants(ctx, insTxn); err != nil {
			return fmt.Errorf("invariant check after insert: %w", err)
		}
		fmt.Printf("   ok, depth now %d, inserts=%d\n", t.Depth(), insTxn.Stats().NumInserts)
		return nil
	}); err != nil {
		fmt.Printf("insert phase failed: %v\n", err)
		os.Exit(1)
	}
	if err := cache.Commit(insTxn); err != nil {
		fmt.Printf("insert commit failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("3. range scan over [70, 140)")
	scanTxn := cache.BeginTransaction(true)
	if err := bptree.WithTree(ctx, cache, scanTxn, fanout, func(t *bptree.Tree) error {
		cur, err := t.LowerBound(ctx, scanTxn, 70)
		if err != nil {
			return err
		}
		count := 0
		for !cur.IsEnd() && cur.GetKey() < 140 {
			count++
			if err := cur.Next(ctx); err != nil {
				return err
			}
		}
		fmt.Printf("   found %d entries in range\n", count)
		return nil
	}); err != nil {
		fmt.Printf("scan phase failed: %v\n", err)
		os.Exit(1)
	}
	cache.Abort(scanTxn)

	fmt.Println("4. removing every third inserted key, forcing merges")
	rmTxn := cache.BeginTransaction(false)
	if err := bptree.WithTree(ctx, cache, rmTxn, fanout, func(t *bptree.Tree) error {
		for i := 0; i < 200; i += 3 {
			k := bptree.LogicalAddr(i * 7)
			cur, err := t.LowerBound(ctx, rmTxn, k)
			if err != nil {
				return err
			}
			if cur.IsEnd() || cur.GetKey() != k {
				continue
			}
			if _, err := t.Remove(ctx, rmTxn, cur); err != nil {
				return err
			}
		}
		if err := t.CheckInvariants(ctx, rmTxn); err != nil {
			return fmt.Errorf("invariant check after remove: %w", err)
		}
		fmt.Printf("   ok, depth now %d, erases=%d\n", t.Depth(), rmTxn.Stats().NumErases)
		return nil
	}); err != nil {
		fmt.Printf("remove phase failed: %v\n", err)
		os.Exit(1)
	}
	if err := cache.Commit(rmTxn); err != nil {
		fmt.Printf("remove commit failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("done")
}
