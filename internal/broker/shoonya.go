package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pquerna/otp/totp"

	apierrors "shoonya-bridge/internal/errors"
	"shoonya-bridge/internal/models"
)

const (
	defaultRESTHost = "https://api.shoonya.com/NorenWClientTP"
	defaultWSHost   = "wss://api.shoonya.com/NorenWSTP/"
	apkVersion      = "1.0.0"
	sourceAPI       = "API"
)

// ShoonyaBroker implements the Broker interface against the Shoonya
// (Finvasia) NorenApi REST endpoints.
type ShoonyaBroker struct {
	client *resty.Client
	wsHost string

	mu           sync.RWMutex
	userID       string
	accountID    string
	sessionToken string
}

// ShoonyaConfig holds configuration for the Shoonya broker client.
type ShoonyaConfig struct {
	RESTHost string
	WSHost   string
	Timeout  time.Duration
}

// NewShoonyaBroker creates a new Shoonya broker client.
func NewShoonyaBroker(cfg ShoonyaConfig) *ShoonyaBroker {
	host := cfg.RESTHost
	if host == "" {
		host = defaultRESTHost
	}
	wsHost := cfg.WSHost
	if wsHost == "" {
		wsHost = defaultWSHost
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(host).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/x-www-form-urlencoded")

	return &ShoonyaBroker{
		client: client,
		wsHost: wsHost,
	}
}

// norenEnvelope carries the status fields present in every Noren response.
type norenEnvelope struct {
	Stat string `json:"stat"`
	Emsg string `json:"emsg"`
}

func (e norenEnvelope) ok() bool { return e.Stat == "Ok" }

// Login authenticates with Shoonya. The password and app key are sent as
// SHA-256 digests; the second factor is either the 6-digit code supplied in
// the credentials or derived from a base32 TOTP secret.
func (s *ShoonyaBroker) Login(ctx context.Context, creds models.Credentials) (*LoginResult, error) {
	factor2, err := resolveTwoFA(creds.TwoFA)
	if err != nil {
		return nil, apierrors.NewAuthError("resolving second factor", err)
	}

	payload := map[string]string{
		"uid":        creds.UserID,
		"pwd":        sha256Hex(creds.Password),
		"factor2":    factor2,
		"vc":         creds.VendorCode,
		"appkey":     sha256Hex(creds.UserID + "|" + creds.APISecret),
		"imei":       creds.IMEI,
		"apkversion": apkVersion,
		"source":     sourceAPI,
	}

	var resp struct {
		norenEnvelope
		SUserToken string `json:"susertoken"`
		UID        string `json:"uid"`
		ActID      string `json:"actid"`
		UName      string `json:"uname"`
	}
	// Login is the one call made without a session key.
	if err := s.post(ctx, "/QuickAuth", payload, "", &resp); err != nil {
		return nil, apierrors.NewAuthError("login request failed", err)
	}
	if !resp.ok() {
		return nil, apierrors.NewAuthError(resp.Emsg, nil)
	}

	accountID := resp.ActID
	if accountID == "" {
		accountID = resp.UID
	}

	s.mu.Lock()
	s.userID = resp.UID
	s.accountID = accountID
	s.sessionToken = resp.SUserToken
	s.mu.Unlock()

	return &LoginResult{
		UserID:       resp.UID,
		Username:     resp.UName,
		SessionToken: resp.SUserToken,
	}, nil
}

// Logout invalidates the upstream session and clears the stored token.
func (s *ShoonyaBroker) Logout(ctx context.Context) error {
	uid, _, token, err := s.session()
	if err != nil {
		return err
	}

	var resp norenEnvelope
	if err := s.post(ctx, "/Logout", map[string]string{"uid": uid}, token, &resp); err != nil {
		return err
	}

	s.mu.Lock()
	s.sessionToken = ""
	s.mu.Unlock()

	if !resp.ok() {
		return apierrors.NewUpstreamError("logout", resp.Emsg, nil)
	}
	return nil
}

// PlaceOrder submits a new order.
func (s *ShoonyaBroker) PlaceOrder(ctx context.Context, req models.OrderRequest) (*OrderResult, error) {
	uid, actid, token, err := s.session()
	if err != nil {
		return nil, err
	}

	payload := orderPayload(uid, actid, req)

	var resp struct {
		norenEnvelope
		NorenOrdNo string `json:"norenordno"`
	}
	if err := s.post(ctx, "/PlaceOrder", payload, token, &resp); err != nil {
		return nil, err
	}
	if !resp.ok() || resp.NorenOrdNo == "" {
		return nil, s.classify("place order", resp.norenEnvelope)
	}
	return &OrderResult{BrokerOrderID: resp.NorenOrdNo, Message: "order placed"}, nil
}

// ModifyOrder modifies an open order in place.
func (s *ShoonyaBroker) ModifyOrder(ctx context.Context, brokerOrderID string, req models.OrderRequest) (*OrderResult, error) {
	uid, _, token, err := s.session()
	if err != nil {
		return nil, err
	}

	payload := map[string]string{
		"uid":        uid,
		"norenordno": brokerOrderID,
		"exch":       string(req.Exchange),
		"tsym":       req.Symbol,
		"qty":        strconv.Itoa(req.Quantity),
		"prctyp":     priceType(req.OrderType),
		"prc":        formatPrice(req.Price),
		"ret":        string(req.Retention),
	}
	if req.OrderType.RequiresTrigger() {
		payload["trgprc"] = formatPrice(req.TriggerPrice)
	}

	var resp struct {
		norenEnvelope
		Result string `json:"result"`
	}
	if err := s.post(ctx, "/ModifyOrder", payload, token, &resp); err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, s.classify("modify order", resp.norenEnvelope)
	}
	return &OrderResult{BrokerOrderID: brokerOrderID, Message: "order modified"}, nil
}

// CancelOrder cancels an open order.
func (s *ShoonyaBroker) CancelOrder(ctx context.Context, brokerOrderID string) (*OrderResult, error) {
	uid, _, token, err := s.session()
	if err != nil {
		return nil, err
	}

	var resp struct {
		norenEnvelope
		Result string `json:"result"`
	}
	payload := map[string]string{"uid": uid, "norenordno": brokerOrderID}
	if err := s.post(ctx, "/CancelOrder", payload, token, &resp); err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, s.classify("cancel order", resp.norenEnvelope)
	}
	return &OrderResult{BrokerOrderID: brokerOrderID, Message: "order cancelled"}, nil
}

// norenOrder is a Noren order-book row. Numeric fields arrive as strings.
type norenOrder struct {
	norenEnvelope
	NorenOrdNo string `json:"norenordno"`
	Exch       string `json:"exch"`
	Tsym       string `json:"tsym"`
	TranType   string `json:"trantype"`
	PrcTyp     string `json:"prctyp"`
	Prd        string `json:"prd"`
	Qty        string `json:"qty"`
	Prc        string `json:"prc"`
	TrgPrc     string `json:"trgprc"`
	FillShares string `json:"fillshares"`
	AvgPrc     string `json:"avgprc"`
	Status     string `json:"status"`
	NorenTm    string `json:"norentm"`
}

// GetOrderBook fetches all orders for the day.
func (s *ShoonyaBroker) GetOrderBook(ctx context.Context) ([]models.OrderBookEntry, error) {
	uid, _, token, err := s.session()
	if err != nil {
		return nil, err
	}

	var rows []norenOrder
	if err := s.postList(ctx, "/OrderBook", map[string]string{"uid": uid}, token, &rows); err != nil {
		return nil, err
	}

	entries := make([]models.OrderBookEntry, 0, len(rows))
	for _, r := range rows {
		if r.NorenOrdNo == "" {
			continue
		}
		entries = append(entries, models.OrderBookEntry{
			BrokerOrderID: r.NorenOrdNo,
			Symbol:        r.Tsym,
			Exchange:      models.Exchange(r.Exch),
			Transaction:   transactionFromNoren(r.TranType),
			OrderType:     orderTypeFromNoren(r.PrcTyp),
			Product:       productFromNoren(r.Prd),
			Quantity:      atoi(r.Qty),
			Price:         atof(r.Prc),
			TriggerPrice:  atof(r.TrgPrc),
			FilledQty:     atoi(r.FillShares),
			AveragePrice:  atof(r.AvgPrc),
			Status:        r.Status,
			PlacedAt:      parseNorenTime(r.NorenTm),
		})
	}
	return entries, nil
}

// GetTradeBook fetches all executions for the day.
func (s *ShoonyaBroker) GetTradeBook(ctx context.Context) ([]models.Trade, error) {
	uid, actid, token, err := s.session()
	if err != nil {
		return nil, err
	}

	var rows []struct {
		norenEnvelope
		NorenOrdNo string `json:"norenordno"`
		FlID       string `json:"flid"`
		Tsym       string `json:"tsym"`
		Exch       string `json:"exch"`
		TranType   string `json:"trantype"`
		FlQty      string `json:"flqty"`
		FlPrc      string `json:"flprc"`
		FlTm       string `json:"fltm"`
	}
	payload := map[string]string{"uid": uid, "actid": actid}
	if err := s.postList(ctx, "/TradeBook", payload, token, &rows); err != nil {
		return nil, err
	}

	trades := make([]models.Trade, 0, len(rows))
	for _, r := range rows {
		if r.NorenOrdNo == "" {
			continue
		}
		trades = append(trades, models.Trade{
			BrokerOrderID: r.NorenOrdNo,
			TradeID:       r.FlID,
			Symbol:        r.Tsym,
			Exchange:      models.Exchange(r.Exch),
			Transaction:   transactionFromNoren(r.TranType),
			Quantity:      atoi(r.FlQty),
			Price:         atof(r.FlPrc),
			ExecutedAt:    parseNorenTime(r.FlTm),
		})
	}
	return trades, nil
}

// GetPositions fetches the current position book.
func (s *ShoonyaBroker) GetPositions(ctx context.Context) ([]models.Position, error) {
	uid, actid, token, err := s.session()
	if err != nil {
		return nil, err
	}

	var rows []struct {
		norenEnvelope
		Tsym   string `json:"tsym"`
		Exch   string `json:"exch"`
		Prd    string `json:"prd"`
		NetQty string `json:"netqty"`
		NetAvg string `json:"netavgprc"`
		LP     string `json:"lp"`
		URMtoM string `json:"urmtom"`
		RPnL   string `json:"rpnl"`
	}
	payload := map[string]string{"uid": uid, "actid": actid}
	if err := s.postList(ctx, "/PositionBook", payload, token, &rows); err != nil {
		return nil, err
	}

	positions := make([]models.Position, 0, len(rows))
	for _, r := range rows {
		if r.Tsym == "" {
			continue
		}
		positions = append(positions, models.Position{
			Symbol:       r.Tsym,
			Exchange:     models.Exchange(r.Exch),
			Product:      productFromNoren(r.Prd),
			Quantity:     atoi(r.NetQty),
			AveragePrice: atof(r.NetAvg),
			LTP:          atof(r.LP),
			PnL:          atof(r.URMtoM) + atof(r.RPnL),
		})
	}
	return positions, nil
}

// GetHoldings fetches delivery holdings, optionally filtered by product.
func (s *ShoonyaBroker) GetHoldings(ctx context.Context, product models.ProductType) ([]models.Holding, error) {
	uid, actid, token, err := s.session()
	if err != nil {
		return nil, err
	}

	payload := map[string]string{"uid": uid, "actid": actid}
	if product != "" {
		payload["prd"] = productToNoren(product)
	} else {
		payload["prd"] = "C"
	}

	var rows []struct {
		norenEnvelope
		ExchTsym []struct {
			Exch string `json:"exch"`
			Tsym string `json:"tsym"`
		} `json:"exch_tsym"`
		HoldQty string `json:"holdqty"`
		UplDPrc string `json:"upldprc"`
	}
	if err := s.postList(ctx, "/Holdings", payload, token, &rows); err != nil {
		return nil, err
	}

	holdings := make([]models.Holding, 0, len(rows))
	for _, r := range rows {
		if len(r.ExchTsym) == 0 {
			continue
		}
		holdings = append(holdings, models.Holding{
			Symbol:       r.ExchTsym[0].Tsym,
			Exchange:     models.Exchange(r.ExchTsym[0].Exch),
			Quantity:     atoi(r.HoldQty),
			AveragePrice: atof(r.UplDPrc),
		})
	}
	return holdings, nil
}

// GetLimits fetches account balance and margin limits.
func (s *ShoonyaBroker) GetLimits(ctx context.Context) (*models.Limits, error) {
	uid, actid, token, err := s.session()
	if err != nil {
		return nil, err
	}

	var resp struct {
		norenEnvelope
		Cash       string `json:"cash"`
		MarginUsed string `json:"marginused"`
		PayIn      string `json:"payin"`
		PayOut     string `json:"payout"`
		Collateral string `json:"collateral"`
		URMtoM     string `json:"urmtom"`
		RPnL       string `json:"rpnl"`
	}
	payload := map[string]string{"uid": uid, "actid": actid}
	if err := s.post(ctx, "/Limits", payload, token, &resp); err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, s.classify("limits", resp.norenEnvelope)
	}

	return &models.Limits{
		Cash:            atof(resp.Cash),
		MarginUsed:      atof(resp.MarginUsed),
		PayIn:           atof(resp.PayIn),
		PayOut:          atof(resp.PayOut),
		CollateralValue: atof(resp.Collateral),
		UnrealizedMTM:   atof(resp.URMtoM),
		RealizedMTM:     atof(resp.RPnL),
	}, nil
}

// GetQuote fetches a point-in-time quote for an instrument.
func (s *ShoonyaBroker) GetQuote(ctx context.Context, instrument models.InstrumentKey) (*models.Quote, error) {
	uid, _, token, err := s.session()
	if err != nil {
		return nil, err
	}

	var resp struct {
		norenEnvelope
		Tsym string `json:"tsym"`
		LP   string `json:"lp"`
		O    string `json:"o"`
		H    string `json:"h"`
		L    string `json:"l"`
		C    string `json:"c"`
		V    string `json:"v"`
		PC   string `json:"pc"`
	}
	payload := map[string]string{
		"uid":   uid,
		"exch":  string(instrument.Exchange),
		"token": instrument.Token,
	}
	if err := s.post(ctx, "/GetQuotes", payload, token, &resp); err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, s.classify("quote", resp.norenEnvelope)
	}

	return &models.Quote{
		Instrument:    instrument,
		Symbol:        resp.Tsym,
		LTP:           atof(resp.LP),
		Open:          atof(resp.O),
		High:          atof(resp.H),
		Low:           atof(resp.L),
		Close:         atof(resp.C),
		Volume:        int64(atoi(resp.V)),
		ChangePercent: atof(resp.PC),
		Timestamp:     time.Now(),
	}, nil
}

// SearchScrip searches for instruments matching text on an exchange.
func (s *ShoonyaBroker) SearchScrip(ctx context.Context, exchange models.Exchange, text string) ([]models.Scrip, error) {
	uid, _, token, err := s.session()
	if err != nil {
		return nil, err
	}

	var resp struct {
		norenEnvelope
		Values []struct {
			Exch  string `json:"exch"`
			Token string `json:"token"`
			Tsym  string `json:"tsym"`
			Cname string `json:"cname"`
			LS    string `json:"ls"`
			TI    string `json:"ti"`
		} `json:"values"`
	}
	payload := map[string]string{
		"uid":   uid,
		"exch":  string(exchange),
		"stext": text,
	}
	if err := s.post(ctx, "/SearchScrip", payload, token, &resp); err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, s.classify("search scrip", resp.norenEnvelope)
	}

	scrips := make([]models.Scrip, 0, len(resp.Values))
	for _, v := range resp.Values {
		scrips = append(scrips, models.Scrip{
			Exchange: models.Exchange(v.Exch),
			Token:    v.Token,
			Symbol:   v.Tsym,
			Name:     v.Cname,
			LotSize:  atoi(v.LS),
			TickSize: atof(v.TI),
		})
	}
	return scrips, nil
}

// OpenStream returns a websocket stream bound to the current session.
func (s *ShoonyaBroker) OpenStream() (Stream, error) {
	uid, actid, token, err := s.session()
	if err != nil {
		return nil, err
	}
	return newShoonyaStream(s.wsHost, uid, actid, token), nil
}

// session returns the identifiers of the authenticated session.
func (s *ShoonyaBroker) session() (uid, actid, token string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sessionToken == "" {
		return "", "", "", apierrors.ErrNotAuthenticated
	}
	return s.userID, s.accountID, s.sessionToken, nil
}

// post sends one jData/jKey form request and decodes a single-object reply.
func (s *ShoonyaBroker) post(ctx context.Context, path string, payload map[string]string, jKey string, out interface{}) error {
	body, err := encodeForm(payload, jKey)
	if err != nil {
		return err
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		return wrapTransport(path, err)
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return apierrors.NewUpstreamError(path, "malformed response", err)
	}
	return nil
}

// postList decodes endpoints that answer with a JSON array on success and a
// single {stat:Not_Ok} object on failure. An error object whose emsg reports
// "no data" maps to an empty list.
func (s *ShoonyaBroker) postList(ctx context.Context, path string, payload map[string]string, jKey string, out interface{}) error {
	body, err := encodeForm(payload, jKey)
	if err != nil {
		return err
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		return wrapTransport(path, err)
	}

	raw := resp.Body()
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		var env norenEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return apierrors.NewUpstreamError(path, "malformed response", err)
		}
		if strings.Contains(strings.ToLower(env.Emsg), "no data") {
			return nil
		}
		return s.classify(path, env)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return apierrors.NewUpstreamError(path, "malformed response", err)
	}
	return nil
}

// classify maps a Not_Ok envelope to the error taxonomy. Session rejections
// become AuthErrors so callers can expire the local session.
func (s *ShoonyaBroker) classify(op string, env norenEnvelope) error {
	msg := env.Emsg
	if msg == "" {
		msg = "request failed"
	}
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "session expired") || strings.Contains(lower, "invalid session") {
		return apierrors.NewAuthError(msg, apierrors.ErrSessionExpired)
	}
	if strings.Contains(lower, "wrong exch") || strings.Contains(lower, "invalid exch") ||
		strings.Contains(lower, "invalid token") {
		return apierrors.NewUpstreamError(op, msg, apierrors.ErrUnknownInstrument)
	}
	return apierrors.NewUpstreamError(op, msg, nil)
}

func wrapTransport(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apierrors.NewUpstreamError(op, "request timed out", apierrors.ErrTimeout)
	}
	return apierrors.NewUpstreamError(op, "transport failure", err)
}

func encodeForm(payload map[string]string, jKey string) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}
	body := "jData=" + string(data)
	if jKey != "" {
		body += "&jKey=" + jKey
	}
	return body, nil
}

// orderPayload converts an OrderRequest into Noren place-order form fields.
func orderPayload(uid, actid string, req models.OrderRequest) map[string]string {
	payload := map[string]string{
		"uid":      uid,
		"actid":    actid,
		"exch":     string(req.Exchange),
		"tsym":     req.Symbol,
		"qty":      strconv.Itoa(req.Quantity),
		"dscqty":   "0",
		"prd":      productToNoren(req.Product),
		"trantype": transactionToNoren(req.Transaction),
		"prctyp":   priceType(req.OrderType),
		"prc":      formatPrice(req.Price),
		"ret":      string(req.Retention),
	}
	if req.OrderType.RequiresTrigger() {
		payload["trgprc"] = formatPrice(req.TriggerPrice)
	}
	if req.Remarks != "" {
		payload["remarks"] = req.Remarks
	}
	return payload
}

// resolveTwoFA returns the second factor to send: a 6-digit code is passed
// through, anything longer is treated as a base32 TOTP secret.
func resolveTwoFA(twoFA string) (string, error) {
	trimmed := strings.TrimSpace(twoFA)
	if trimmed == "" {
		return "", fmt.Errorf("second factor is empty")
	}
	if len(trimmed) <= 8 {
		return trimmed, nil
	}
	code, err := totp.GenerateCode(strings.ToUpper(trimmed), time.Now())
	if err != nil {
		return "", fmt.Errorf("generating TOTP code: %w", err)
	}
	return code, nil
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func priceType(t models.OrderType) string {
	switch t {
	case models.OrderTypeMarket:
		return "MKT"
	case models.OrderTypeLimit:
		return "LMT"
	case models.OrderTypeStopLoss:
		return "SL-LMT"
	case models.OrderTypeStopLossM:
		return "SL-MKT"
	default:
		return string(t)
	}
}

func orderTypeFromNoren(prctyp string) models.OrderType {
	switch prctyp {
	case "MKT":
		return models.OrderTypeMarket
	case "LMT":
		return models.OrderTypeLimit
	case "SL-LMT":
		return models.OrderTypeStopLoss
	case "SL-MKT":
		return models.OrderTypeStopLossM
	default:
		return models.OrderType(prctyp)
	}
}

func productToNoren(p models.ProductType) string {
	switch p {
	case models.ProductIntraday:
		return "I"
	case models.ProductCNC:
		return "C"
	case models.ProductNormal:
		return "M"
	case models.ProductMTF:
		return "F"
	default:
		return string(p)
	}
}

func productFromNoren(prd string) models.ProductType {
	switch prd {
	case "I":
		return models.ProductIntraday
	case "C":
		return models.ProductCNC
	case "M":
		return models.ProductNormal
	case "F":
		return models.ProductMTF
	default:
		return models.ProductType(prd)
	}
}

func transactionToNoren(t models.TransactionType) string {
	if t == models.TransactionSell {
		return "S"
	}
	return "B"
}

func transactionFromNoren(t string) models.TransactionType {
	if t == "S" {
		return models.TransactionSell
	}
	return models.TransactionBuy
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

func atof(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func parseNorenTime(s string) time.Time {
	// Noren timestamps look like "14:35:02 27-08-2026".
	t, err := time.ParseInLocation("15:04:05 02-01-2006", s, istLocation())
	if err != nil {
		return time.Time{}
	}
	return t
}

var istOnce sync.Once
var ist *time.Location

func istLocation() *time.Location {
	istOnce.Do(func() {
		loc, err := time.LoadLocation("Asia/Kolkata")
		if err != nil {
			loc = time.FixedZone("IST", 5*3600+1800)
		}
		ist = loc
	})
	return ist
}

// Ensure ShoonyaBroker implements Broker interface
var _ Broker = (*ShoonyaBroker)(nil)
