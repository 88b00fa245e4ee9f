package main

import (
	"fmt"

	"github.com/kvstash/linhash/pkg/linhash"
)

type command struct {
	name  string
	usage string
	run   func(store *linhash.Store, args []string) error
}

var commands = []command{
	{"put", "<key> <value>   store value under key", cmdPut},
	{"get", "<key>           print the value stored under key, or (not found)", cmdGet},
	{"del", "<key>           delete key, reporting whether it existed", cmdDel},
	{"status", "               print level/split/capacity/loadCount/loadFactor", cmdStatus},
	{"keys", "                 list every key currently in the store", cmdKeys},
	{"scan", "                 list every (key, value) pair currently in the store", cmdScan},
	{"rehash", "               drive any in-progress split to completion", cmdRehash},
	{"clear", "                remove every entry", cmdClear},
	{"sync", "                 flush pending writes durably", cmdSync},
	{"persist", "              force a full checkpoint", cmdPersist},
}

func lookupCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}

	return command{}, false
}

func cmdPut(store *linhash.Store, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: put <key> <value>")
	}

	if err := store.Put([]byte(args[0]), []byte(args[1])); err != nil {
		return err
	}

	fmt.Println("OK")

	return nil
}

func cmdGet(store *linhash.Store, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: get <key>")
	}

	value, found, err := store.Get([]byte(args[0]))
	if err != nil {
		return err
	}

	if !found {
		fmt.Println("(not found)")
		return nil
	}

	fmt.Println(string(value))

	return nil
}

func cmdDel(store *linhash.Store, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: del <key>")
	}

	existed, err := store.Delete([]byte(args[0]))
	if err != nil {
		return err
	}

	if existed {
		fmt.Println("OK: deleted")
	} else {
		fmt.Println("OK: did not exist")
	}

	return nil
}

func cmdStatus(store *linhash.Store, args []string) error {
	fmt.Println(store.Status())
	return nil
}

func cmdKeys(store *linhash.Store, args []string) error {
	store.KeyIterator()(func(key []byte) bool {
		fmt.Println(string(key))
		return true
	})

	return nil
}

func cmdScan(store *linhash.Store, args []string) error {
	store.Iterator()(func(entry linhash.Entry) bool {
		fmt.Printf("%s = %s\n", entry.Key, entry.Value)
		return true
	})

	return nil
}

func cmdRehash(store *linhash.Store, args []string) error {
	if err := store.Rehash(); err != nil {
		return err
	}

	fmt.Println(store.Status())

	return nil
}

func cmdClear(store *linhash.Store, args []string) error {
	if err := store.Clear(); err != nil {
		return err
	}

	fmt.Println("OK")

	return nil
}

func cmdSync(store *linhash.Store, args []string) error {
	if err := store.Sync(); err != nil {
		return err
	}

	fmt.Println("OK")

	return nil
}

func cmdPersist(store *linhash.Store, args []string) error {
	if err := store.Persist(); err != nil {
		return err
	}

	fmt.Println("OK")

	return nil
}
