// Package ratefeed quotes the benchmark financing rate from the central
// bank's SOAP feed and applies the configured lender margin on top.
package ratefeed

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/beevik/etree"
	"github.com/brickvest/estate-finance/internal/config"
	"github.com/sirupsen/logrus"
)

// Client fetches the benchmark key rate
type Client struct {
	url    string
	margin float64
	client *http.Client
	log    *logrus.Logger
}

// NewClient initializes a new rate feed client
func NewClient(cfg *config.Config, log *logrus.Logger) *Client {
	return &Client{
		url:    cfg.RateFeedURL,
		margin: cfg.LenderMargin,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

func (c *Client) buildRequest() string {
	fromDate := time.Now().AddDate(0, 0, -30).Format("2006-01-02")
	toDate := time.Now().Format("2006-01-02")
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
		<soap12:Envelope xmlns:soap12="http://www.w3.org/2003/05/soap-envelope">
			<soap12:Body>
				<KeyRate xmlns="http://web.cbr.ru/">
					<fromDate>%s</fromDate>
					<ToDate>%s</ToDate>
				</KeyRate>
			</soap12:Body>
		</soap12:Envelope>`, fromDate, toDate)
}

func (c *Client) fetch(soapRequest string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, c.url, bytes.NewBufferString(soapRequest))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")
	req.Header.Set("SOAPAction", "http://web.cbr.ru/KeyRate")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rate feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rate feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read rate feed response: %w", err)
	}
	c.log.Debugf("Rate feed XML response: %s", string(body))
	return body, nil
}

// parseRate extracts the most recent key rate from the feed's XML payload.
func parseRate(rawBody []byte) (float64, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(rawBody); err != nil {
		return 0, fmt.Errorf("failed to parse rate feed XML: %w", err)
	}

	entries := doc.FindElements("//diffgram/KeyRate/KR")
	if len(entries) == 0 {
		return 0, fmt.Errorf("no rate entries in feed response")
	}

	rateElement := entries[0].FindElement("./Rate")
	if rateElement == nil {
		return 0, fmt.Errorf("rate element missing in feed entry")
	}

	rate, err := strconv.ParseFloat(rateElement.Text(), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse rate value %q: %w", rateElement.Text(), err)
	}
	return rate, nil
}

// QuoteRate retrieves the current benchmark rate and adds the lender margin
func (c *Client) QuoteRate() (float64, error) {
	body, err := c.fetch(c.buildRequest())
	if err != nil {
		return 0, err
	}

	rate, err := parseRate(body)
	if err != nil {
		return 0, err
	}

	quoted := rate + c.margin
	c.log.Infof("Quoted financing rate: %.2f%% (benchmark %.2f%% + margin %.2f%%)", quoted, rate, c.margin)
	return quoted, nil
}
