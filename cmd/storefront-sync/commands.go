package main

import (
	"fmt"
	"strconv"

	"github.com/MarcoPoloResearchLab/storefront/internal/collection"
	"github.com/MarcoPoloResearchLab/storefront/internal/session"
	"github.com/spf13/cobra"
)

// withRuntime opens the runtime for one command and closes it afterwards.
func withRuntime(run func(cmd *cobra.Command, args []string, rt *runtime) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()
		return run(cmd, args, rt)
	}
}

// withCollections is withRuntime for commands that read or change the cart or wishlist.
func withCollections(run func(cmd *cobra.Command, args []string, rt *runtime) error) func(*cobra.Command, []string) error {
	return withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
		if err := rt.hydrate(cmd.Context()); err != nil {
			return err
		}
		return run(cmd, args, rt)
	})
}

type productFlags struct {
	id         string
	name       string
	priceCents int64
	imageURL   string
}

func (f *productFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.id, "product-id", "", "Product identifier")
	cmd.Flags().StringVar(&f.name, "name", "", "Product name")
	cmd.Flags().Int64Var(&f.priceCents, "price-cents", 0, "Unit price in cents")
	cmd.Flags().StringVar(&f.imageURL, "image-url", "", "Product image URL")
	_ = cmd.MarkFlagRequired("product-id")
}

func (f *productFlags) product() collection.Product {
	return collection.Product{ID: f.id, Name: f.name, PriceCents: f.priceCents, ImageURL: f.imageURL}
}

type cartSummary struct {
	Items      []collection.CartItem `json:"items"`
	Units      int                   `json:"units"`
	TotalCents int64                 `json:"total_cents"`
}

func printCart(cmd *cobra.Command, rt *runtime) error {
	return writeJSON(cmd.OutOrStdout(), cartSummary{
		Items:      rt.cart.Items(),
		Units:      rt.cart.Units(),
		TotalCents: rt.cart.TotalCents(),
	})
}

func newCartCommand() *cobra.Command {
	cartCmd := &cobra.Command{Use: "cart", Short: "Inspect and change the persisted cart"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print the cart",
		RunE: withCollections(func(cmd *cobra.Command, _ []string, rt *runtime) error {
			return printCart(cmd, rt)
		}),
	}

	var addProduct productFlags
	var size, color string
	var quantity int
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add units of a product; repeating a line increases its quantity",
		RunE: withCollections(func(cmd *cobra.Command, _ []string, rt *runtime) error {
			if err := rt.cart.AddItem(cmd.Context(), addProduct.product(), size, color, quantity); err != nil {
				return err
			}
			return printCart(cmd, rt)
		}),
	}
	addProduct.register(addCmd)
	addCmd.Flags().StringVar(&size, "size", "", "Chosen size")
	addCmd.Flags().StringVar(&color, "color", "", "Chosen color")
	addCmd.Flags().IntVar(&quantity, "quantity", 1, "Units to add")

	var setSize, setColor string
	setCmd := &cobra.Command{
		Use:   "set <product-id> <quantity>",
		Short: "Set the quantity of a line; zero removes it",
		Args:  cobra.ExactArgs(2),
		RunE: withCollections(func(cmd *cobra.Command, args []string, rt *runtime) error {
			quantity, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid quantity %q", args[1])
			}
			if !rt.cart.SetQuantity(cmd.Context(), collection.CartKey(args[0], setSize, setColor), quantity) {
				return fmt.Errorf("cart line %s not found", args[0])
			}
			return printCart(cmd, rt)
		}),
	}
	setCmd.Flags().StringVar(&setSize, "size", "", "Line size")
	setCmd.Flags().StringVar(&setColor, "color", "", "Line color")

	var removeSize, removeColor string
	removeCmd := &cobra.Command{
		Use:   "remove <product-id>",
		Short: "Remove a line",
		Args:  cobra.ExactArgs(1),
		RunE: withCollections(func(cmd *cobra.Command, args []string, rt *runtime) error {
			rt.cart.Remove(cmd.Context(), collection.CartKey(args[0], removeSize, removeColor))
			return printCart(cmd, rt)
		}),
	}
	removeCmd.Flags().StringVar(&removeSize, "size", "", "Line size")
	removeCmd.Flags().StringVar(&removeColor, "color", "", "Line color")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Empty the cart",
		RunE: withCollections(func(cmd *cobra.Command, _ []string, rt *runtime) error {
			rt.cart.Clear(cmd.Context())
			return printCart(cmd, rt)
		}),
	}

	cartCmd.AddCommand(listCmd, addCmd, setCmd, removeCmd, clearCmd)
	return cartCmd
}

func printWishlist(cmd *cobra.Command, rt *runtime) error {
	return writeJSON(cmd.OutOrStdout(), rt.wishlist.Items())
}

func newWishlistCommand() *cobra.Command {
	wishlistCmd := &cobra.Command{Use: "wishlist", Short: "Inspect and change the persisted wishlist"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print the wishlist",
		RunE: withCollections(func(cmd *cobra.Command, _ []string, rt *runtime) error {
			return printWishlist(cmd, rt)
		}),
	}

	var addProduct productFlags
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Save a product",
		RunE: withCollections(func(cmd *cobra.Command, _ []string, rt *runtime) error {
			if _, err := rt.wishlist.AddProduct(cmd.Context(), addProduct.product()); err != nil {
				return err
			}
			return printWishlist(cmd, rt)
		}),
	}
	addProduct.register(addCmd)

	var toggleProduct productFlags
	toggleCmd := &cobra.Command{
		Use:   "toggle",
		Short: "Save a product or remove it when already saved",
		RunE: withCollections(func(cmd *cobra.Command, _ []string, rt *runtime) error {
			if _, err := rt.wishlist.Toggle(cmd.Context(), toggleProduct.product()); err != nil {
				return err
			}
			return printWishlist(cmd, rt)
		}),
	}
	toggleProduct.register(toggleCmd)

	removeCmd := &cobra.Command{
		Use:   "remove <product-id>",
		Short: "Remove a saved product",
		Args:  cobra.ExactArgs(1),
		RunE: withCollections(func(cmd *cobra.Command, args []string, rt *runtime) error {
			rt.wishlist.Remove(cmd.Context(), args[0])
			return printWishlist(cmd, rt)
		}),
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Empty the wishlist",
		RunE: withCollections(func(cmd *cobra.Command, _ []string, rt *runtime) error {
			rt.wishlist.Clear(cmd.Context())
			return printWishlist(cmd, rt)
		}),
	}

	wishlistCmd.AddCommand(listCmd, addCmd, toggleCmd, removeCmd, clearCmd)
	return wishlistCmd
}

func printFeed(cmd *cobra.Command, rt *runtime) error {
	feed, err := rt.notifications.Load(cmd.Context())
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), feed)
}

func parseID(value string) (int, error) {
	id, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid notification id %q", value)
	}
	return id, nil
}

func newNotificationsCommand() *cobra.Command {
	notificationsCmd := &cobra.Command{Use: "notifications", Short: "Inspect and change the admin notification feed"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print the feed, seeding it on first use",
		RunE: withRuntime(func(cmd *cobra.Command, _ []string, rt *runtime) error {
			return printFeed(cmd, rt)
		}),
	}

	readCmd := &cobra.Command{
		Use:   "read [id]",
		Short: "Mark one notification, or all of them, as read",
		Args:  cobra.MaximumNArgs(1),
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
			if len(args) == 0 {
				if err := rt.notifications.MarkAllRead(cmd.Context()); err != nil {
					return err
				}
				return printFeed(cmd, rt)
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := rt.notifications.MarkRead(cmd.Context(), id); err != nil {
				return err
			}
			return printFeed(cmd, rt)
		}),
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a notification",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := rt.notifications.Delete(cmd.Context(), id); err != nil {
				return err
			}
			return printFeed(cmd, rt)
		}),
	}

	var category, label string
	addCmd := &cobra.Command{
		Use:   "add <message>",
		Short: "Prepend an unread notification",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
			if _, err := rt.notifications.Add(cmd.Context(), args[0], category, label); err != nil {
				return err
			}
			return printFeed(cmd, rt)
		}),
	}
	addCmd.Flags().StringVar(&category, "type", "order", "Notification category")
	addCmd.Flags().StringVar(&label, "time", "just now", "Creation label")

	notificationsCmd.AddCommand(listCmd, readCmd, deleteCmd, addCmd)
	return notificationsCmd
}

type sessionSummary struct {
	Phase       string            `json:"phase"`
	Identity    *session.Identity `json:"identity"`
	Profile     *session.Profile  `json:"profile"`
	AccessToken string            `json:"access_token,omitempty"`
}

func printSession(cmd *cobra.Command, rt *runtime, token string) error {
	state, err := rt.resolveSession(cmd.Context())
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), sessionSummary{
		Phase:       string(state.Phase()),
		Identity:    state.Identity,
		Profile:     state.Profile,
		AccessToken: token,
	})
}

func newSessionCommand() *cobra.Command {
	sessionCmd := &cobra.Command{Use: "session", Short: "Manage the signed-in identity"}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the current identity and profile",
		RunE: withRuntime(func(cmd *cobra.Command, _ []string, rt *runtime) error {
			return printSession(cmd, rt, "")
		}),
	}

	var fullName string
	registerCmd := &cobra.Command{
		Use:   "register <email>",
		Short: "Create an account and sign it in",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
			metadata := map[string]any{}
			if fullName != "" {
				metadata["full_name"] = fullName
			}
			_, token, err := rt.backend.Register(cmd.Context(), args[0], metadata)
			if err != nil {
				return err
			}
			return printSession(cmd, rt, token)
		}),
	}
	registerCmd.Flags().StringVar(&fullName, "full-name", "", "Name used for the initial profile")

	var token string
	signInCmd := &cobra.Command{
		Use:   "signin [email]",
		Short: "Sign in with a session token or, for a local operator, an account email",
		Args:  cobra.MaximumNArgs(1),
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *runtime) error {
			if token != "" {
				if _, err := rt.backend.SignIn(cmd.Context(), token); err != nil {
					return err
				}
				return printSession(cmd, rt, "")
			}
			if len(args) == 0 {
				return fmt.Errorf("either --token or an account email is required")
			}
			_, issued, err := rt.backend.SignInAccount(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printSession(cmd, rt, issued)
		}),
	}
	signInCmd.Flags().StringVar(&token, "token", "", "Session token to sign in with")

	signOutCmd := &cobra.Command{
		Use:   "signout",
		Short: "End the current session",
		RunE: withRuntime(func(cmd *cobra.Command, _ []string, rt *runtime) error {
			if _, err := rt.resolveSession(cmd.Context()); err != nil {
				return err
			}
			rt.controller.SignOut(cmd.Context())
			state := rt.controller.State()
			return writeJSON(cmd.OutOrStdout(), sessionSummary{Phase: string(state.Phase())})
		}),
	}

	var displayName, phone string
	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Update the profile of the signed-in identity",
		RunE: withRuntime(func(cmd *cobra.Command, _ []string, rt *runtime) error {
			if _, err := rt.resolveSession(cmd.Context()); err != nil {
				return err
			}
			profile, err := rt.controller.UpdateProfile(cmd.Context(), session.ProfileFields{DisplayName: displayName, Phone: phone})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), profile)
		}),
	}
	profileCmd.Flags().StringVar(&displayName, "display-name", "", "Display name")
	profileCmd.Flags().StringVar(&phone, "phone", "", "Phone number")
	_ = profileCmd.MarkFlagRequired("display-name")

	sessionCmd.AddCommand(statusCmd, registerCmd, signInCmd, signOutCmd, profileCmd)
	return sessionCmd
}
