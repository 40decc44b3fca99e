package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	sqliteadapter "github.com/opentourtools/tourstudio/internal/adapters/db/sqlite"
	httpadapter "github.com/opentourtools/tourstudio/internal/adapters/http"
	rpcadapter "github.com/opentourtools/tourstudio/internal/adapters/rpcjson"
	"github.com/opentourtools/tourstudio/internal/adapters/stitcher"
	"github.com/opentourtools/tourstudio/internal/application"
	"github.com/opentourtools/tourstudio/internal/domain"
	"github.com/urfave/cli/v3"
)

type playbackResult struct {
	Nodes     []domain.TourNode `json:"nodes"`
	StartNode string            `json:"start_node"`
	HasStart  bool              `json:"has_start"`
}

func main() {
	_ = godotenv.Load()

	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}

	root := &cli.Command{
		Name:  "tourstudio",
		Usage: "Virtual tour authoring server and CLI",
		Commands: []*cli.Command{
			serverCommand(),
			authCommand(),
			toursCommand(),
			roomsCommand(),
			markersCommand(),
			tooltipsCommand(),
			audioCommand(),
			startRoomCommand(),
			pendingCommand(),
			playbackCommand(),
			auditCommand(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runServer(ctx, serverOptions{
				Addr:              ":8080",
				RPCSocket:         "/tmp/tourstudio.sock",
				DBPath:            "tourstudio.db",
				BackendURL:        "http://127.0.0.1:5000",
				BootstrapEmail:    "admin@tourstudio.local",
				BootstrapPassword: "admin",
			})
		},
	}

	if err := root.Run(context.Background(), args); err != nil {
		log.Fatal(err)
	}
}

type serverOptions struct {
	Addr              string
	RPCSocket         string
	DBPath            string
	BackendURL        string
	BootstrapEmail    string
	BootstrapPassword string
}

func serverCommand() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "Run HTTP server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":8080", Usage: "HTTP listen address"},
			&cli.StringFlag{Name: "rpc-socket", Value: "/tmp/tourstudio.sock", Usage: "JSON-RPC unix socket path"},
			&cli.StringFlag{Name: "db-path", Value: "tourstudio.db", Usage: "SQLite database path"},
			&cli.StringFlag{Name: "backend-url", Value: "http://127.0.0.1:5000", Usage: "panorama stitching backend base URL", Sources: cli.EnvVars("TOURSTUDIO_BACKEND_URL")},
			&cli.StringFlag{Name: "bootstrap-admin-email", Value: "admin@tourstudio.local", Usage: "initial admin email", Sources: cli.EnvVars("TOURSTUDIO_ADMIN_EMAIL")},
			&cli.StringFlag{Name: "bootstrap-admin-password", Value: "admin", Usage: "initial admin password when users are empty", Sources: cli.EnvVars("TOURSTUDIO_ADMIN_PASSWORD")},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return runServer(ctx, serverOptions{
				Addr:              c.String("addr"),
				RPCSocket:         c.String("rpc-socket"),
				DBPath:            c.String("db-path"),
				BackendURL:        c.String("backend-url"),
				BootstrapEmail:    c.String("bootstrap-admin-email"),
				BootstrapPassword: c.String("bootstrap-admin-password"),
			})
		},
	}
}

func runServer(ctx context.Context, opts serverOptions) error {
	db, err := sqliteadapter.Open(opts.DBPath)
	if err != nil {
		return err
	}
	if err := sqliteadapter.RunMigrations(ctx, db); err != nil {
		return err
	}

	repo := sqliteadapter.NewTourRepository(db)
	backend := stitcher.New(opts.BackendURL)
	service := application.NewTourService(repo, backend)
	if err := service.BootstrapAdmin(ctx, opts.BootstrapEmail, opts.BootstrapPassword); err != nil {
		return err
	}

	router := httpadapter.NewRouter(service)
	srv := &http.Server{Addr: opts.Addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	rpcSrv, err := rpcadapter.Start(opts.RPCSocket, service)
	if err != nil {
		return err
	}

	defer func() {
		_ = rpcSrv.Close()
	}()
	log.Printf("json-rpc listening on unix://%s", opts.RPCSocket)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received signal %s, shutting down", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authentication commands",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Login and store CLI token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "transport", Value: "uds"},
					&cli.StringFlag{Name: "server", Value: "http://127.0.0.1:8080"},
					&cli.StringFlag{Name: "socket", Value: "/tmp/tourstudio.sock"},
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "password", Required: true},
					&cli.StringFlag{Name: "token-name", Value: "cli"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg := cliConfig{Transport: c.String("transport"), Server: c.String("server"), Socket: c.String("socket")}
					var out struct {
						Token string `json:"token"`
						Email string `json:"email"`
					}
					err := doLogin(ctx, cfg, c.String("email"), c.String("password"), c.String("token-name"), &out)
					if err != nil {
						return err
					}
					cfg.Token = out.Token
					if err := saveConfig(cfg); err != nil {
						return err
					}
					fmt.Printf("logged in as %s\n", out.Email)
					return nil
				},
			},
			{
				Name:  "whoami",
				Usage: "Show current authenticated user",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "output raw JSON"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out struct {
						ID    uint   `json:"id"`
						Email string `json:"email"`
					}
					if err := doWhoAmI(ctx, cfg, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printKV([][2]string{{"id", uintToString(out.ID)}, {"email", out.Email}})
					return nil
				},
			},
			{
				Name:  "logout",
				Usage: "Clear local CLI auth token",
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					_ = doLogout(ctx, cfg)
					cfg.Token = ""
					if err := saveConfig(cfg); err != nil {
						return err
					}
					fmt.Println("logged out")
					return nil
				},
			},
		},
	}
}

func toursCommand() *cli.Command {
	return &cli.Command{
		Name:  "tours",
		Usage: "Tour commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List tours",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "owner-id"},
					&cli.StringFlag{Name: "q"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var ownerID *uint
					if c.IsSet("owner-id") {
						v := uint(c.Uint("owner-id"))
						ownerID = &v
					}
					var out []domain.Tour
					if err := doToursList(ctx, cfg, ownerID, c.String("q"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printTours(out)
					return nil
				},
			},
			{
				Name:  "create",
				Usage: "Create a tour by stitching room image sets",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringSliceFlag{Name: "room", Required: true, Usage: "RoomName=img1.jpg,img2.jpg (repeatable)"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					rooms := make(map[string][]string)
					for _, spec := range c.StringSlice("room") {
						name, list, ok := strings.Cut(spec, "=")
						if !ok || name == "" || list == "" {
							return fmt.Errorf("invalid room spec %q, want RoomName=img1.jpg,img2.jpg", spec)
						}
						rooms[name] = strings.Split(list, ",")
					}
					var out struct {
						Tour      domain.Tour       `json:"tour"`
						Panoramas map[string]string `json:"panoramas"`
					}
					if err := doTourCreate(ctx, cfg, c.String("name"), rooms, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printTours([]domain.Tour{out.Tour})
					return nil
				},
			},
			{
				Name:  "get",
				Usage: "Show a tour",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tour", Required: true},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out domain.Tour
					if err := doTourGet(ctx, cfg, c.String("tour"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printTours([]domain.Tour{out})
					return nil
				},
			},
			{
				Name:  "delete",
				Usage: "Delete a tour",
				Flags: []cli.Flag{&cli.StringFlag{Name: "tour", Required: true}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					if err := doTourDelete(ctx, cfg, c.String("tour"), nil); err != nil {
						return err
					}
					fmt.Println("deleted")
					return nil
				},
			},
			{
				Name:  "open",
				Usage: "Open an editing session",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tour", Required: true},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out application.Snapshot
					if err := doSessionOpen(ctx, cfg, c.String("tour"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printSnapshot(out)
					return nil
				},
			},
			{
				Name:  "close",
				Usage: "Close the editing session",
				Flags: []cli.Flag{&cli.StringFlag{Name: "tour", Required: true}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					if err := doSessionClose(ctx, cfg, c.String("tour")); err != nil {
						return err
					}
					fmt.Println("closed")
					return nil
				},
			},
			{
				Name:  "reload",
				Usage: "Re-fetch tour data from the backend",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tour", Required: true},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out application.Snapshot
					if err := doSessionReload(ctx, cfg, c.String("tour"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printSnapshot(out)
					return nil
				},
			},
			{
				Name:  "show",
				Usage: "Show the session snapshot",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tour", Required: true},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out application.Snapshot
					if err := doSnapshot(ctx, cfg, c.String("tour"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printSnapshot(out)
					return nil
				},
			},
		},
	}
}

func roomsCommand() *cli.Command {
	return &cli.Command{
		Name:  "rooms",
		Usage: "Room commands",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Add an empty room to the open session",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tour", Required: true},
					&cli.StringFlag{Name: "name", Required: true},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out application.Snapshot
					if err := doRoomAdd(ctx, cfg, c.String("tour"), c.String("name"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printSnapshot(out)
					return nil
				},
			},
			{
				Name:  "rename",
				Usage: "Request a room rename (confirm with 'pending confirm')",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tour", Required: true},
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "new-name", Required: true},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out pendingEnvelope
					if err := doRoomRenameRequest(ctx, cfg, c.String("tour"), c.String("name"), c.String("new-name"), &out); err != nil {
						return err
					}
					printPending(out.Pending)
					return nil
				},
			},
			{
				Name:  "delete",
				Usage: "Request a room delete (confirm with 'pending confirm')",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tour", Required: true},
					&cli.StringFlag{Name: "name", Required: true},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out pendingEnvelope
					if err := doRoomDeleteRequest(ctx, cfg, c.String("tour"), c.String("name"), &out); err != nil {
						return err
					}
					printPending(out.Pending)
					return nil
				},
			},
			{
				Name:  "images",
				Usage: "Upload a new image set and restitch the room panorama",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tour", Required: true},
					&cli.StringFlag{Name: "room", Required: true},
					&cli.StringSliceFlag{Name: "image", Required: true, Usage: "image file path (repeatable)"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out struct {
						Panorama string `json:"panorama"`
					}
					if err := doRoomImages(ctx, cfg, c.String("tour"), c.String("room"), c.StringSlice("image"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printKV([][2]string{{"panorama", out.Panorama}})
					return nil
				},
			},
		},
	}
}

func markersCommand() *cli.Command {
	return &cli.Command{
		Name:  "markers",
		Usage: "Navigation marker commands",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Add a navigation marker between two rooms",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tour", Required: true},
					&cli.StringFlag{Name: "from", Required: true},
					&cli.StringFlag{Name: "to", Required: true},
					&cli.FloatFlag{Name: "x", Usage: "normalized x in [0,1], defaults to center"},
					&cli.FloatFlag{Name: "y", Usage: "normalized y in [0,1], defaults to center"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var pos *domain.Position
					if c.IsSet("x") || c.IsSet("y") {
						pos = &domain.Position{X: c.Float("x"), Y: c.Float("y")}
					}
					var out domain.Marker
					if err := doMarkerAdd(ctx, cfg, c.String("tour"), c.String("from"), c.String("to"), pos, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printMarker(out)
					return nil
				},
			},
			{
				Name:  "remove",
				Usage: "Request a marker removal (confirm with 'pending confirm')",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tour", Required: true},
					&cli.StringFlag{Name: "from", Required: true},
					&cli.StringFlag{Name: "to", Required: true},
					&cli.FloatFlag{Name: "x", Required: true},
					&cli.FloatFlag{Name: "y", Required: true},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					pos := domain.Position{X: c.Float("x"), Y: c.Float("y")}
					var out pendingEnvelope
					if err := doMarkerRemoveRequest(ctx, cfg, c.String("tour"), c.String("from"), c.String("to"), pos, &out); err != nil {
						return err
					}
					printPending(out.Pending)
					return nil
				},
			},
		},
	}
}

func tooltipsCommand() *cli.Command {
	return &cli.Command{
		Name:  "tooltips",
		Usage: "Tooltip commands",
		Commands: []*cli.Command{
			{
				Name:  "select-room",
				Usage: "Make a room active for tooltip editing",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tour", Required: true},
					&cli.StringFlag{Name: "room", Required: true},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out application.Snapshot
					if err := doTooltipSelectRoom(ctx, cfg, c.String("tour"), c.String("room"), &out); err != nil {
						return err
					}
					printSnapshot(out)
					return nil
				},
			},
			{
				Name:  "begin-placement",
				Usage: "Arm placement mode with tooltip text",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tour", Required: true},
					&cli.StringFlag{Name: "content", Required: true},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out application.Snapshot
					if err := doTooltipBeginPlacement(ctx, cfg, c.String("tour"), c.String("content"), &out); err != nil {
						return err
					}
					printSnapshot(out)
					return nil
				},
			},
			{
				Name:  "begin-edit",
				Usage: "Arm reposition mode for an existing tooltip",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tour", Required: true},
					&cli.StringFlag{Name: "id", Required: true},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out application.Snapshot
					if err := doTooltipBeginEdit(ctx, cfg, c.String("tour"), c.String("id"), &out); err != nil {
						return err
					}
					printSnapshot(out)
					return nil
				},
			},
			{
				Name:  "place",
				Usage: "Place or reposition at pixel coordinates within image bounds",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tour", Required: true},
					&cli.FloatFlag{Name: "px", Required: true},
					&cli.FloatFlag{Name: "py", Required: true},
					&cli.FloatFlag{Name: "width", Required: true},
					&cli.FloatFlag{Name: "height", Required: true},
					&cli.FloatFlag{Name: "origin-x"},
					&cli.FloatFlag{Name: "origin-y"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					bounds := application.ImageBounds{
						OriginX: c.Float("origin-x"),
						OriginY: c.Float("origin-y"),
						Width:   c.Float("width"),
						Height:  c.Float("height"),
					}
					var out domain.Tooltip
					if err := doTooltipPlace(ctx, cfg, c.String("tour"), c.Float("px"), c.Float("py"), bounds, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printTooltip(out)
					return nil
				},
			},
			{
				Name:  "content",
				Usage: "Update tooltip text",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tour", Required: true},
					&cli.StringFlag{Name: "id", Required: true},
					&cli.StringFlag{Name: "content", Required: true},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					if err := doTooltipContent(ctx, cfg, c.String("tour"), c.String("id"), c.String("content"), nil); err != nil {
						return err
					}
					fmt.Println("updated")
					return nil
				},
			},
			{
				Name:  "remove",
				Usage: "Request a tooltip removal (confirm with 'pending confirm')",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tour", Required: true},
					&cli.StringFlag{Name: "id", Required: true},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out pendingEnvelope
					if err := doTooltipRemoveRequest(ctx, cfg, c.String("tour"), c.String("id"), &out); err != nil {
						return err
					}
					printPending(out.Pending)
					return nil
				},
			},
		},
	}
}

func audioCommand() *cli.Command {
	return &cli.Command{
		Name:  "audio",
		Usage: "Room narration commands",
		Commands: []*cli.Command{
			{
				Name:  "select",
				Usage: "Stage an audio file for a room",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tour", Required: true},
					&cli.StringFlag{Name: "room", Required: true},
					&cli.StringFlag{Name: "file", Required: true},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out application.Snapshot
					if err := doAudioSelect(ctx, cfg, c.String("tour"), c.String("room"), c.String("file"), &out); err != nil {
						return err
					}
					printSnapshot(out)
					return nil
				},
			},
			{
				Name:  "upload",
				Usage: "Upload the staged clip for a room",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tour", Required: true},
					&cli.StringFlag{Name: "room", Required: true},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out struct {
						AudioURL string `json:"audio_url"`
					}
					if err := doAudioUpload(ctx, cfg, c.String("tour"), c.String("room"), &out); err != nil {
						return err
					}
					printKV([][2]string{{"audio_url", out.AudioURL}})
					return nil
				},
			},
			{
				Name:  "discard",
				Usage: "Drop the staged clip for a room",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tour", Required: true},
					&cli.StringFlag{Name: "room", Required: true},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					if err := doAudioDiscard(ctx, cfg, c.String("tour"), c.String("room"), nil); err != nil {
						return err
					}
					fmt.Println("discarded")
					return nil
				},
			},
			{
				Name:  "remove",
				Usage: "Request removal of uploaded narration (confirm with 'pending confirm')",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tour", Required: true},
					&cli.StringFlag{Name: "room", Required: true},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out pendingEnvelope
					if err := doAudioRemoveRequest(ctx, cfg, c.String("tour"), c.String("room"), &out); err != nil {
						return err
					}
					printPending(out.Pending)
					return nil
				},
			},
		},
	}
}

func startRoomCommand() *cli.Command {
	return &cli.Command{
		Name:  "start-room",
		Usage: "Set the tour entry room",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tour", Required: true},
			&cli.StringFlag{Name: "room", Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := doStartRoomSet(ctx, cfg, c.String("tour"), c.String("room"), nil); err != nil {
				return err
			}
			fmt.Println("start room updated")
			return nil
		},
	}
}

func pendingCommand() *cli.Command {
	return &cli.Command{
		Name:  "pending",
		Usage: "Inspect, confirm, or cancel the parked destructive action",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Show the pending action",
				Flags: []cli.Flag{&cli.StringFlag{Name: "tour", Required: true}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out pendingEnvelope
					if err := doPendingGet(ctx, cfg, c.String("tour"), &out); err != nil {
						return err
					}
					printPending(out.Pending)
					return nil
				},
			},
			{
				Name:  "confirm",
				Usage: "Apply the pending action",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tour", Required: true},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out application.Snapshot
					if err := doPendingConfirm(ctx, cfg, c.String("tour"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printSnapshot(out)
					return nil
				},
			},
			{
				Name:  "cancel",
				Usage: "Discard the pending action",
				Flags: []cli.Flag{&cli.StringFlag{Name: "tour", Required: true}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					if err := doPendingCancel(ctx, cfg, c.String("tour"), nil); err != nil {
						return err
					}
					fmt.Println("cancelled")
					return nil
				},
			},
		},
	}
}

func playbackCommand() *cli.Command {
	return &cli.Command{
		Name:  "playback",
		Usage: "Assemble the viewer node list",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tour", Required: true},
			&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var out playbackResult
			if err := doPlayback(ctx, cfg, c.String("tour"), &out); err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(out)
			}
			printPlayback(out)
			return nil
		},
	}
}

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Audit log commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List audit logs",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "output raw JSON"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out []domain.AuditLog
					if err := doAuditList(ctx, cfg, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printAuditLogs(out)
					return nil
				},
			},
		},
	}
}

type pendingEnvelope struct {
	Pending *application.PendingAction `json:"pending"`
}

func jsonMarshal(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
