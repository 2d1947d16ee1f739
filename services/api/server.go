// Package api exposes the scrape job store and the scraper itself over
// HTTP.
package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"pointval-backend/services/scraper"
)

type Server struct {
	scrapers *scraper.Service
}

func NewServer(scrapers *scraper.Service) *Server {
	return &Server{scrapers: scrapers}
}

// Handler builds the routed echo instance. The caller owns serving it.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		slog.Error("request failed",
			"status", code, "method", req.Method, "path", req.URL.Path, "err", err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]string{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/health", s.health)

	g := e.Group("/api")
	g.POST("/scrape", s.triggerScrape)
	g.GET("/scrapes", s.listScrapes)
	g.GET("/scrapes/latest/completed", s.latestCompletedScrape)
	g.GET("/scrapes/:id", s.getScrape)
	g.DELETE("/scrapes/:id", s.deleteScrape)
	g.GET("/compare", s.compareScrapes)

	return e
}

func (s *Server) health(c echo.Context) error {
	running, err := s.scrapers.IsJobRunning(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "ok",
		"scrape_running": running,
	})
}
