package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/2-07665/ww-echo-policy-calculator/rest"
)

var listenAddr string // HTTP listen address

// serveCmd exposes the query surface over JSON/HTTP.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the policy query surface over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		// A local .env may override the listen address; absence is fine.
		if err := godotenv.Load(); err == nil {
			if addr := os.Getenv("ECHO_POLICY_ADDR"); addr != "" && !cmd.Flags().Changed("addr") {
				listenAddr = addr
			}
		}

		svc, err := newService()
		if err != nil {
			return err
		}

		rest.InitMetrics()
		e := echo.New()
		e.HideBanner = true
		e.Use(echomiddleware.Recover())

		rest.NewHandler(svc).Register(e)
		e.GET("/healthz", func(c echo.Context) error { return c.NoContent(200) })
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

		logrus.Infof("serving on %s", listenAddr)
		return e.Start(listenAddr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "addr", ":8650", "HTTP listen address")
	serveCmd.Flags().StringVar(&userCountsPath, "user-counts", "", "YAML file with user-observed roll counts")
}
