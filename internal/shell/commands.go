package shell

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"nestkv/internal/outcome"
	"nestkv/internal/storage"
)

// rest joins args[i:] so values may contain spaces.
func rest(args []string, i int) string {
	return strings.Join(args[i:], " ")
}

func parseDelta(ctx CommandContext, args []string, i int) (float64, bool) {
	if len(args) <= i {
		return 1, true
	}
	d, err := strconv.ParseFloat(args[i], 64)
	if err != nil {
		ctx.fail("invalid number %q\n", args[i])
		return 0, false
	}
	return d, true
}

func parseIndex(ctx CommandContext, s string) (int, bool) {
	i, err := strconv.Atoi(s)
	if err != nil {
		ctx.fail("invalid index %q\n", s)
		return 0, false
	}
	return i, true
}

// RegisterBuiltins registers every nestkv command.
func (r *CommandRegistry) RegisterBuiltins() {
	r.registerBuiltins(true)
}

// RegisterRemoteBuiltins registers every command except export and import,
// which read and write files on the host running the shell.
func (r *CommandRegistry) RegisterRemoteBuiltins() {
	r.registerBuiltins(false)
}

func (r *CommandRegistry) registerBuiltins(files bool) {
	r.registerScalar()
	r.registerNamespace()
	r.registerList()
	r.registerQueue()
	r.registerSet()
	r.registerHash()
	r.registerAdmin()
	if files {
		r.registerFiles()
	}
	r.registerExit()
}

func (r *CommandRegistry) registerScalar() {
	r.Register("get", Command{
		Usage: "get <key>", Help: "print a value", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			respond(c, c.Session.Storage().Get(c.Ctx, c.Args[0]), fmtString)
			return false
		},
	})
	r.Register("set", Command{
		Usage: "set <key> <value...>", Help: "store a value", MinArgs: 2,
		Handler: func(c CommandContext) bool {
			respond(c, c.Session.Storage().Set(c.Ctx, c.Args[0], rest(c.Args, 1)), fmtOK)
			return false
		},
	})
	r.Register("del", Command{
		Usage: "del <key>", Help: "remove a key", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			respond(c, c.Session.Storage().Remove(c.Ctx, c.Args[0]), fmtOK)
			return false
		},
	})
	r.Register("has", Command{
		Usage: "has <key>", Help: "check whether a key exists", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			respond(c, c.Session.Storage().Has(c.Ctx, c.Args[0]), fmtBool)
			return false
		},
	})
	r.Register("keys", Command{
		Help: "list scalar keys",
		Handler: func(c CommandContext) bool {
			respond(c, c.Session.Storage().Keys(c.Ctx), fmtList)
			return false
		},
	})
	r.Register("entries", Command{
		Help: "list scalar keys and values",
		Handler: func(c CommandContext) bool {
			respond(c, c.Session.Storage().Entries(c.Ctx), fmtEntries)
			return false
		},
	})
	r.Register("len", Command{
		Usage: "len <key>", Help: "length of a value", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			respond(c, c.Session.Storage().Length(c.Ctx, c.Args[0]), fmtInt)
			return false
		},
	})
	r.Register("incr", Command{
		Usage: "incr <key> [delta]", Help: "add to a numeric value (default 1)", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			if d, ok := parseDelta(c, c.Args, 1); ok {
				respond(c, c.Session.Storage().Increase(c.Ctx, c.Args[0], d), fmtNumber)
			}
			return false
		},
	})
	r.Register("clear", Command{
		Help: "remove every scalar key of this namespace",
		Handler: func(c CommandContext) bool {
			respond(c, c.Session.Storage().Clear(c.Ctx), fmtOK)
			return false
		},
	})
}

func (r *CommandRegistry) registerNamespace() {
	r.Register("ns", Command{
		Usage: "ns [segment]", Help: "show or enter a child namespace",
		Handler: func(c CommandContext) bool {
			if len(c.Args) > 0 {
				c.Session.current = c.Session.current.Namespace(c.Args[0])
			}
			printf(c.Out, "%s\n", c.Session.current)
			return false
		},
	})
	r.Register("up", Command{
		Help: "go to the parent namespace",
		Handler: func(c CommandContext) bool {
			c.Session.current = c.Session.current.Parent()
			printf(c.Out, "%s\n", c.Session.current)
			return false
		},
	})
	r.Register("vis", Command{
		Usage: "vis [USER|WORKSHEET|PRIVATE|COMPONENT]", Help: "show or switch visibility",
		Handler: func(c CommandContext) bool {
			if len(c.Args) > 0 {
				v, err := storage.ParseVisibility(c.Args[0])
				if err != nil {
					c.fail("%v\n", err)
					return false
				}
				s, err := c.Session.db.Storage(v, c.Session.current.Path()...)
				if err != nil {
					c.fail("%v\n", err)
					return false
				}
				c.Session.current = s
			}
			printf(c.Out, "%s\n", c.Session.current)
			return false
		},
	})
}

func (r *CommandRegistry) registerList() {
	list := func(c CommandContext) *storage.List { return c.Session.Storage().ListOf(c.Args[0]) }

	r.Register("lpush", Command{
		Usage: "lpush <list> <value> [value...]", Help: "append values", MinArgs: 2,
		Handler: func(c CommandContext) bool {
			respond(c, list(c).PushMany(c.Ctx, c.Args[1:]), fmtOK)
			return false
		},
	})
	r.Register("lpop", Command{
		Usage: "lpop <list>", Help: "remove and print the tail", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			respond(c, list(c).Pop(c.Ctx), fmtOptional)
			return false
		},
	})
	r.Register("lshift", Command{
		Usage: "lshift <list>", Help: "remove and print the head", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			respond(c, list(c).Shift(c.Ctx), fmtOptional)
			return false
		},
	})
	r.Register("lunshift", Command{
		Usage: "lunshift <list> <value...>", Help: "insert a value at the head", MinArgs: 2,
		Handler: func(c CommandContext) bool {
			respond(c, list(c).Unshift(c.Ctx, rest(c.Args, 1)), fmtOK)
			return false
		},
	})
	r.Register("lget", Command{
		Usage: "lget <list> <index>", Help: "print the element at index", MinArgs: 2,
		Handler: func(c CommandContext) bool {
			if i, ok := parseIndex(c, c.Args[1]); ok {
				respond(c, list(c).Get(c.Ctx, i), fmtString)
			}
			return false
		},
	})
	r.Register("lset", Command{
		Usage: "lset <list> <index> <value...>", Help: "replace the element at index", MinArgs: 3,
		Handler: func(c CommandContext) bool {
			if i, ok := parseIndex(c, c.Args[1]); ok {
				respond(c, list(c).Set(c.Ctx, i, rest(c.Args, 2)), fmtOK)
			}
			return false
		},
	})
	r.Register("lrange", Command{
		Usage: "lrange <list>", Help: "print every element", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			respond(c, list(c).GetAll(c.Ctx), fmtList)
			return false
		},
	})
	r.Register("llen", Command{
		Usage: "llen <list>", Help: "number of elements", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			respond(c, list(c).Length(c.Ctx), fmtInt)
			return false
		},
	})
	r.Register("lclear", Command{
		Usage: "lclear <list>", Help: "remove every element", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			respond(c, list(c).Clear(c.Ctx), fmtOK)
			return false
		},
	})
	r.Register("lsum", Command{
		Usage: "lsum <list>", Help: "numeric sum", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			respond(c, list(c).Sum(c.Ctx), fmtNumber)
			return false
		},
	})
	r.Register("lavg", Command{
		Usage: "lavg <list>", Help: "numeric mean", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			respond(c, list(c).Avg(c.Ctx), fmtNumber)
			return false
		},
	})
	r.Register("lmax", Command{
		Usage: "lmax <list>", Help: "greatest element", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			respond(c, list(c).Max(c.Ctx), fmtString)
			return false
		},
	})
	r.Register("lmin", Command{
		Usage: "lmin <list>", Help: "least element", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			respond(c, list(c).Min(c.Ctx), fmtString)
			return false
		},
	})
}

func (r *CommandRegistry) registerQueue() {
	queue := func(c CommandContext) *storage.Queue { return c.Session.Storage().QueueOf(c.Args[0]) }

	r.Register("qpush", Command{
		Usage: "qpush <queue> <value...>", Help: "enqueue a value", MinArgs: 2,
		Handler: func(c CommandContext) bool {
			respond(c, queue(c).Enqueue(c.Ctx, rest(c.Args, 1)), fmtOK)
			return false
		},
	})
	r.Register("qpop", Command{
		Usage: "qpop <queue> [FIFO|LIFO]", Help: "dequeue (default FIFO)", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			mode := storage.FIFO
			if len(c.Args) > 1 {
				m, err := storage.ParseDequeueMode(c.Args[1])
				if err != nil {
					c.fail("%v\n", err)
					return false
				}
				mode = m
			}
			respond(c, queue(c).Dequeue(c.Ctx, mode), fmtOptional)
			return false
		},
	})
	r.Register("qlen", Command{
		Usage: "qlen <queue>", Help: "number of queued values", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			respond(c, queue(c).Length(c.Ctx), fmtInt)
			return false
		},
	})
	r.Register("qclear", Command{
		Usage: "qclear <queue>", Help: "remove every queued value", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			respond(c, queue(c).Clear(c.Ctx), fmtOK)
			return false
		},
	})
}

func (r *CommandRegistry) registerSet() {
	set := func(c CommandContext) *storage.Set { return c.Session.Storage().SetOf(c.Args[0]) }

	r.Register("sadd", Command{
		Usage: "sadd <set> <member...>", Help: "add a member", MinArgs: 2,
		Handler: func(c CommandContext) bool {
			respond(c, set(c).Add(c.Ctx, rest(c.Args, 1)), fmtBool)
			return false
		},
	})
	r.Register("srem", Command{
		Usage: "srem <set> <member...>", Help: "remove a member", MinArgs: 2,
		Handler: func(c CommandContext) bool {
			respond(c, set(c).Remove(c.Ctx, rest(c.Args, 1)), fmtBool)
			return false
		},
	})
	r.Register("shas", Command{
		Usage: "shas <set> <member...>", Help: "check membership", MinArgs: 2,
		Handler: func(c CommandContext) bool {
			respond(c, set(c).Has(c.Ctx, rest(c.Args, 1)), fmtBool)
			return false
		},
	})
	r.Register("smembers", Command{
		Usage: "smembers <set>", Help: "list members", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			respond(c, set(c).GetAll(c.Ctx), fmtList)
			return false
		},
	})
	r.Register("slen", Command{
		Usage: "slen <set>", Help: "number of members", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			respond(c, set(c).Length(c.Ctx), fmtInt)
			return false
		},
	})
	r.Register("sclear", Command{
		Usage: "sclear <set>", Help: "remove every member", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			respond(c, set(c).Clear(c.Ctx), fmtOK)
			return false
		},
	})
}

func (r *CommandRegistry) registerHash() {
	hash := func(c CommandContext) *storage.Hash { return c.Session.Storage().HashOf(c.Args[0]) }

	r.Register("hset", Command{
		Usage: "hset <hash> <field> <value...>", Help: "set a field", MinArgs: 3,
		Handler: func(c CommandContext) bool {
			respond(c, hash(c).Set(c.Ctx, c.Args[1], rest(c.Args, 2)), fmtOK)
			return false
		},
	})
	r.Register("hmset", Command{
		Usage: "hmset <hash> <field=value>...", Help: "merge several fields", MinArgs: 2,
		Handler: func(c CommandContext) bool {
			obj := make(map[string]string, len(c.Args)-1)
			for _, pair := range c.Args[1:] {
				f, v, ok := strings.Cut(pair, "=")
				if !ok {
					c.fail("expected field=value, got %q\n", pair)
					return false
				}
				obj[f] = v
			}
			respond(c, hash(c).FromObject(c.Ctx, obj), fmtOK)
			return false
		},
	})
	r.Register("hget", Command{
		Usage: "hget <hash> <field>", Help: "print a field", MinArgs: 2,
		Handler: func(c CommandContext) bool {
			respond(c, hash(c).Get(c.Ctx, c.Args[1]), fmtString)
			return false
		},
	})
	r.Register("hdel", Command{
		Usage: "hdel <hash> <field>", Help: "remove a field", MinArgs: 2,
		Handler: func(c CommandContext) bool {
			respond(c, hash(c).Remove(c.Ctx, c.Args[1]), fmtOK)
			return false
		},
	})
	r.Register("hhas", Command{
		Usage: "hhas <hash> <field>", Help: "check whether a field exists", MinArgs: 2,
		Handler: func(c CommandContext) bool {
			respond(c, hash(c).Has(c.Ctx, c.Args[1]), fmtBool)
			return false
		},
	})
	r.Register("hgetall", Command{
		Usage: "hgetall <hash>", Help: "print every field", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			respond(c, hash(c).Entries(c.Ctx), fmtEntries)
			return false
		},
	})
	r.Register("hkeys", Command{
		Usage: "hkeys <hash>", Help: "list fields", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			respond(c, hash(c).Keys(c.Ctx), fmtList)
			return false
		},
	})
	r.Register("hvals", Command{
		Usage: "hvals <hash>", Help: "list values", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			respond(c, hash(c).Values(c.Ctx), fmtList)
			return false
		},
	})
	r.Register("hincr", Command{
		Usage: "hincr <hash> <field> [delta]", Help: "add to a numeric field (default 1)", MinArgs: 2,
		Handler: func(c CommandContext) bool {
			if d, ok := parseDelta(c, c.Args, 2); ok {
				respond(c, hash(c).Increment(c.Ctx, c.Args[1], d), fmtNumber)
			}
			return false
		},
	})
	r.Register("hclear", Command{
		Usage: "hclear <hash>", Help: "remove every field", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			respond(c, hash(c).Clear(c.Ctx), fmtOK)
			return false
		},
	})
}

func (r *CommandRegistry) registerAdmin() {
	r.Register("watch", Command{
		Usage: "watch [kv|list|queue|set|hash] <key>", Help: "print changes to a key", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			kind, key := "kv", c.Args[0]
			if len(c.Args) > 1 {
				kind, key = strings.ToLower(c.Args[0]), c.Args[1]
			}
			if err := watch(c, kind, key); err != nil {
				c.fail("%v\n", err)
				return false
			}
			printf(c.Out, "Watching %s %s\n", kind, key)
			return false
		},
	})
	r.Register("unwatch", Command{
		Help: "stop every watch",
		Handler: func(c CommandContext) bool {
			printf(c.Out, "Stopped %d watches\n", c.Session.Unwatch())
			return false
		},
	})
	r.Register("drop", Command{
		Help: "delete every key and collection of this namespace",
		Handler: func(c CommandContext) bool {
			respond(c, c.Session.Storage().Drop(c.Ctx), fmtOK)
			return false
		},
	})
}

func (r *CommandRegistry) registerFiles() {
	r.Register("export", Command{
		Usage: "export <file>", Help: "write a snapshot of the whole database", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			f, err := os.Create(c.Args[0])
			if err != nil {
				c.fail("%v\n", err)
				return false
			}
			n, err := c.Session.db.Export(c.Ctx, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				c.fail("%v\n", err)
				return false
			}
			printf(c.Out, "Exported %d rows\n", n)
			return false
		},
	})
	r.Register("import", Command{
		Usage: "import <file>", Help: "load a snapshot", MinArgs: 1,
		Handler: func(c CommandContext) bool {
			f, err := os.Open(c.Args[0])
			if err != nil {
				c.fail("%v\n", err)
				return false
			}
			defer f.Close()
			n, err := c.Session.db.Import(c.Ctx, f)
			if err != nil {
				c.fail("%v\n", err)
				return false
			}
			printf(c.Out, "Imported %d rows\n", n)
			return false
		},
	})
}

func (r *CommandRegistry) registerExit() {
	r.Register("help", Command{
		Help: "show this help",
		Handler: func(c CommandContext) bool {
			printf(c.Out, "%s", r.HelpText())
			return false
		},
	})
	r.Register("quit", Command{
		Help: "exit the shell",
		Handler: func(c CommandContext) bool {
			printf(c.Out, "Goodbye.\n")
			return true
		},
	})
}

func watch(c CommandContext, kind, key string) error {
	s, out := c.Session.Storage(), c.Out
	label := fmt.Sprintf("[%s %s %s]", s, kind, key)
	switch kind {
	case "kv":
		c.Session.watch(s.Subscribe(key, func(r outcome.Result[*string]) {
			report(out, r, func(v *string) string { return label + " " + fmtOptional(v) })
		}))
	case "list":
		c.Session.watch(s.ListOf(key).Subscribe(func(r outcome.Result[[]string]) {
			report(out, r, func(v []string) string { return label + "\n" + fmtList(v) })
		}))
	case "queue":
		c.Session.watch(s.QueueOf(key).Subscribe(func(r outcome.Result[[]string]) {
			report(out, r, func(v []string) string { return label + "\n" + fmtList(v) })
		}))
	case "set":
		c.Session.watch(s.SetOf(key).Subscribe(func(r outcome.Result[[]string]) {
			report(out, r, func(v []string) string { return label + "\n" + fmtList(v) })
		}))
	case "hash":
		c.Session.watch(s.HashOf(key).Subscribe(func(r outcome.Result[map[string]string]) {
			report(out, r, func(v map[string]string) string { return label + " " + fmt.Sprint(v) })
		}))
	default:
		return fmt.Errorf("unknown collection kind %q", kind)
	}
	return nil
}
