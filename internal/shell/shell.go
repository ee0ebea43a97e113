package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/example/artisanhub/internal/app"
	"github.com/example/artisanhub/internal/domain/cart"
	"github.com/example/artisanhub/internal/domain/session"
	"github.com/example/artisanhub/internal/notify"
	"github.com/example/artisanhub/internal/remote"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrUsage          = errors.New("usage")
	errUnknownCommand = errors.New("unknown command, try help")
)

// Authenticator exchanges credentials for an identity and access token.
// *remote.HTTPClient implements it.
type Authenticator interface {
	Register(ctx context.Context, data remote.NewUser) (*remote.AuthResult, error)
	Login(ctx context.Context, email, password string) (*remote.AuthResult, error)
}

// Shell is a line-oriented front end for one client process
type Shell struct {
	app  *app.App
	auth Authenticator
	out  io.Writer
}

// New creates a shell. With a nil Authenticator, login accepts an email only
// and derives a stable offline user id from it.
func New(a *app.App, auth Authenticator, out io.Writer) *Shell {
	return &Shell{app: a, auth: auth, out: out}
}

// Attach prints every notification the client emits
func (s *Shell) Attach() (detach func()) {
	return s.app.Bus.Subscribe(func(ev notify.Event) {
		switch ev.Type {
		case notify.CartChanged:
			if snap, ok := ev.Payload.(cart.Snapshot); ok {
				fmt.Fprintf(s.out, "* cart %s: %d item(s), %s due\n", ev.Kind, snap.ItemCount, snap.AmountDue.StringFixed(2))
				return
			}
			fmt.Fprintf(s.out, "* cart %s\n", ev.Kind)
		case notify.AuthChanged:
			who := ev.Email
			if who == "" {
				who = "guest"
			}
			fmt.Fprintf(s.out, "* %s %s\n", ev.Kind, who)
		}
	})
}

// Run reads commands from in until EOF, quit, or ctx is done
func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(s.out, "> ")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		quit, err := s.Exec(ctx, scanner.Text())
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
		fmt.Fprint(s.out, "> ")
	}
	return scanner.Err()
}

// Exec runs a single command line
func (s *Shell) Exec(ctx context.Context, line string) (quit bool, err error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(args[0]), args[1:]

	switch cmd {
	case "quit", "exit":
		return true, nil
	case "help":
		s.help()
	case "whoami":
		s.whoami()
	case "register":
		err = s.register(ctx, args)
	case "login":
		err = s.login(ctx, args)
	case "logout":
		s.app.Session.Logout(ctx)
	case "add":
		err = s.add(ctx, args)
	case "remove", "rm":
		if len(args) != 1 {
			return false, fmt.Errorf("%w: remove <product>", ErrUsage)
		}
		_, err = s.app.Cart.Remove(ctx, args[0])
	case "qty":
		err = s.setQuantity(ctx, args)
	case "cart":
		s.printCart(s.app.Cart.Snapshot())
	case "clear":
		err = s.app.Cart.Clear(ctx)
	case "wish":
		err = s.toggleWish(ctx, args)
	case "wishlist":
		s.printList("wishlist", s.app.Wishlist.Items())
	case "view":
		if len(args) != 1 {
			return false, fmt.Errorf("%w: view <product>", ErrUsage)
		}
		err = s.app.History.Record(ctx, args[0])
	case "history":
		s.printList("recently viewed", s.app.History.Items())
	case "search":
		if len(args) == 0 {
			return false, fmt.Errorf("%w: search <term>", ErrUsage)
		}
		err = s.app.Session.RecordSearch(ctx, strings.Join(args, " "))
	case "searches":
		s.printList("recent searches", s.app.Session.Preferences().SearchHistory)
	case "sync":
		s.app.Flush()
		fmt.Fprintln(s.out, "remote writes flushed")
	default:
		return false, errUnknownCommand
	}
	return false, err
}

func (s *Shell) help() {
	fmt.Fprint(s.out, `commands:
  register <email> <password> [name] [artisan]
  login <email> [password] [remember]
  logout | whoami
  add <product> <price> [qty] [title...]
  remove <product> | qty <product> <n> | cart | clear
  wish <product> | wishlist
  view <product> | history
  search <term> | searches
  sync | quit
`)
}

func (s *Shell) whoami() {
	user, ok := s.app.Session.GetUser()
	if !ok {
		fmt.Fprintf(s.out, "guest (origin %s)\n", s.app.Origin())
		return
	}
	fmt.Fprintf(s.out, "%s <%s> id=%s remembered=%t\n", user.DisplayName, user.Email, user.ID, s.app.Session.Remembered())
}

func (s *Shell) register(ctx context.Context, args []string) error {
	if s.auth == nil {
		return errors.New("register needs a remote edge API")
	}
	if len(args) < 2 {
		return fmt.Errorf("%w: register <email> <password> [name] [artisan]", ErrUsage)
	}
	data := remote.NewUser{Email: args[0], Password: args[1]}
	for _, a := range args[2:] {
		if a == "artisan" {
			data.IsArtisan = true
			continue
		}
		data.DisplayName = strings.TrimSpace(data.DisplayName + " " + a)
	}

	res, err := s.auth.Register(ctx, data)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return s.app.Session.SetUser(ctx, identityOf(res.User), false, session.WithToken(res.Token))
}

func (s *Shell) login(ctx context.Context, args []string) error {
	remember := false
	if n := len(args); n > 0 && args[n-1] == "remember" {
		remember = true
		args = args[:n-1]
	}

	if s.auth == nil {
		if len(args) != 1 {
			return fmt.Errorf("%w: login <email> [remember]", ErrUsage)
		}
		return s.app.Session.SetUser(ctx, OfflineIdentity(args[0]), remember)
	}

	if len(args) != 2 {
		return fmt.Errorf("%w: login <email> <password> [remember]", ErrUsage)
	}
	res, err := s.auth.Login(ctx, args[0], args[1])
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return s.app.Session.SetUser(ctx, identityOf(res.User), remember, session.WithToken(res.Token))
}

// OfflineIdentity derives a stable identity from an email when there is no
// edge API to issue one
func OfflineIdentity(email string) session.Identity {
	email = remote.NormalizeEmail(email)
	return session.Identity{
		ID:          uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+email)).String(),
		Email:       email,
		DisplayName: strings.SplitN(email, "@", 2)[0],
	}
}

func identityOf(u remote.UserRecord) session.Identity {
	return session.Identity{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName, IsArtisan: u.IsArtisan}
}

func (s *Shell) add(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: add <product> <price> [qty] [title...]", ErrUsage)
	}
	price, err := decimal.NewFromString(args[1])
	if err != nil {
		return fmt.Errorf("invalid price %q", args[1])
	}

	qty := 1
	rest := args[2:]
	if len(rest) > 0 {
		if n, err := strconv.Atoi(rest[0]); err == nil {
			qty = n
			rest = rest[1:]
		}
	}
	title := strings.Join(rest, " ")
	if title == "" {
		title = args[0]
	}

	_, err = s.app.Cart.Add(ctx, cart.Product{ID: args[0], Title: title, Price: price}, qty)
	return err
}

func (s *Shell) setQuantity(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: qty <product> <n>", ErrUsage)
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid quantity %q", args[1])
	}
	_, err = s.app.Cart.SetQuantity(ctx, args[0], n)
	return err
}

func (s *Shell) toggleWish(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: wish <product>", ErrUsage)
	}
	added, err := s.app.Wishlist.Toggle(ctx, args[0])
	if err != nil {
		return err
	}
	if added {
		fmt.Fprintf(s.out, "%s added to wishlist\n", args[0])
	} else {
		fmt.Fprintf(s.out, "%s removed from wishlist\n", args[0])
	}
	return nil
}

func (s *Shell) printCart(snap cart.Snapshot) {
	PrintCart(s.out, snap)
}

// PrintCart writes a cart as a table
func PrintCart(out io.Writer, snap cart.Snapshot) {
	owner := snap.Owner
	if owner == "" {
		owner = "guest"
	}
	if len(snap.Lines) == 0 {
		fmt.Fprintf(out, "cart (%s) is empty\n", owner)
		return
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "PRODUCT\tTITLE\tQTY\tUNIT\tSUBTOTAL\n")
	for _, l := range snap.Lines {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", l.ProductID, l.Title, l.Quantity, l.UnitPrice.StringFixed(2), l.Subtotal().StringFixed(2))
	}
	fmt.Fprintf(tw, "\t\t%d\t\t%s\n", snap.ItemCount, snap.AmountDue.StringFixed(2))
	tw.Flush()
	fmt.Fprintf(out, "owner: %s\n", owner)
}

func (s *Shell) printList(title string, items []string) {
	if len(items) == 0 {
		fmt.Fprintf(s.out, "%s: (none)\n", title)
		return
	}
	fmt.Fprintf(s.out, "%s:\n", title)
	for i, it := range items {
		fmt.Fprintf(s.out, "  %2d. %s\n", i+1, it)
	}
}
