package backend

import (
	"context"
	"encoding/json"
)

const (
	ctrlAnalysis    = "AgentronAnalysisController"
	ctrlErrorReport = "ErrorReportController"
	ctrlSelfCheck   = "SelfCheckController"
	ctrlActionRec   = "ActionRecommendController"
	ctrlPartSelect  = "PartSelectController"
	ctrlSelfQuote   = "SelfQuoteController"
	ctrlTracking    = "TrackingStatusController"
)

// SessionID returns the session credential used to authenticate the push
// subscription.
func (c *Client) SessionID(ctx context.Context) (string, error) {
	var id string
	if err := c.call(ctx, ctrlAnalysis, "getSessionId", nil, &id); err != nil {
		return "", err
	}
	if id == "" {
		return "", &CallError{Controller: ctrlAnalysis, Method: "getSessionId", Message: "empty session id"}
	}
	return id, nil
}

// RiskAnalyzeReportID resolves the report id for an analysis uuid.
func (c *Client) RiskAnalyzeReportID(ctx context.Context, uuid string) (string, error) {
	var id string
	err := c.call(ctx, ctrlAnalysis, "getRiskAnalyzeReportId", map[string]string{"uuid": uuid}, &id)
	return id, err
}

// SaveComponentStatus records which screen a messaging session is on.
func (c *Client) SaveComponentStatus(ctx context.Context, sessionID, reportID, component string) error {
	return c.call(ctx, ctrlAnalysis, "saveComponentStatus", map[string]string{
		"messagingSessionId":  sessionID,
		"riskAnalyzeReportId": reportID,
		"type":                component,
	}, nil)
}

// RiskItem is one predicted fault in an error report.
type RiskItem struct {
	ComponentName           string `json:"componentName"`
	FaultSeverityLevel      string `json:"faultSeverityLevel"`
	ExpectedFaultDate       string `json:"expectedFaultDate,omitempty"`
	ComponentLifeExpectancy string `json:"componentLifeExpectancy,omitempty"`
	UsageAnalysis           string `json:"usageAnalysis,omitempty"`
	FaultHistorySummary     string `json:"faultHistorySummary,omitempty"`
	RiskReason              string `json:"riskReason,omitempty"`
	RecommendedAction       string `json:"recommendedAction,omitempty"`
	ImpactDescription       string `json:"impactDescription,omitempty"`
	SelfRepairCost          Amount `json:"selfRepairCost"`
	ExternalRepairCost      Amount `json:"externalRepairCost"`
	CostComparisonMessage   string `json:"costComparisonMessage,omitempty"`
}

// ErrorReport is the reply of ErrorReportController.getInit. A nil
// HasPredictions means the reply did not have the expected shape.
type ErrorReport struct {
	HasPredictions *bool      `json:"hasPredictions"`
	Message        string     `json:"message,omitempty"`
	RiskItems      []RiskItem `json:"riskItems"`
}

// ErrorReportInit loads the risk report for uuid.
func (c *Client) ErrorReportInit(ctx context.Context, uuid string) (ErrorReport, error) {
	var r ErrorReport
	err := c.call(ctx, ctrlErrorReport, "getInit", map[string]string{"uuid": uuid}, &r)
	return r, err
}

// SelfCheckItem is one checklist entry.
type SelfCheckItem struct {
	ID          string `json:"Id"`
	Description string `json:"Description__c"`
}

// SelfCheck is the reply of SelfCheckController.getInit.
type SelfCheck struct {
	Items  []SelfCheckItem `json:"selfCheckItems"`
	Report json.RawMessage `json:"objReport,omitempty"`
}

// StatusResult is the reply shape that reports "SUCCESS" in Status.
type StatusResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// OK reports whether the call succeeded.
func (r StatusResult) OK() bool { return r.Status == "SUCCESS" }

// SelfCheckInit loads the checklist for uuid.
func (c *Client) SelfCheckInit(ctx context.Context, uuid string) (SelfCheck, error) {
	var r SelfCheck
	err := c.call(ctx, ctrlSelfCheck, "getInit", map[string]string{"uuid": uuid}, &r)
	return r, err
}

// UpdateSelfCheckItems marks the given checklist items as checked.
func (c *Client) UpdateSelfCheckItems(ctx context.Context, ids []string) (StatusResult, error) {
	var r StatusResult
	err := c.call(ctx, ctrlSelfCheck, "updateSelfCheckItems", map[string][]string{"itemIds": ids}, &r)
	return r, err
}

// PartNeeded is a part referenced by a recommended action.
type PartNeeded struct {
	ProductCode string `json:"productCode"`
	Quantity    int    `json:"quantity,omitempty"`
}

// RecommendedAction is one action recommendation.
type RecommendedAction struct {
	ID                string       `json:"Id"`
	ActionIndex       int          `json:"actionIndex"`
	FaultType         string       `json:"faultType"`
	FaultDetailType   string       `json:"faultDetailType"`
	FaultReason       string       `json:"faultReason"`
	FaultLocation     string       `json:"faultLocation"`
	ActionDescription string       `json:"actionDescription"`
	PartsNeeded       []PartNeeded `json:"partsNeeded"`
	IsChecked         bool         `json:"isChecked"`
}

// ActionRec is the reply of processActionRecAndProduct.
type ActionRec struct {
	HasPredictions     bool                `json:"hasPredictions"`
	Message            string              `json:"message,omitempty"`
	AnalysisSummary    string              `json:"analysisSummary,omitempty"`
	RecommendedActions []RecommendedAction `json:"recommendedActions"`
}

// File is a downloadable document.
type File struct {
	FileName   string `json:"fileName"`
	FileType   string `json:"fileType"`
	Base64Data string `json:"base64Data"`
}

// DocumentResult is the reply of getDocumentDataForDownload.
type DocumentResult struct {
	Result
	Files []File `json:"files"`
}

// ProcessActionRec loads the recommendations for a report.
func (c *Client) ProcessActionRec(ctx context.Context, reportID string) (ActionRec, error) {
	var r ActionRec
	err := c.call(ctx, ctrlActionRec, "processActionRecAndProduct", map[string]string{"reportId": reportID}, &r)
	return r, err
}

// UpdateActionRecItems saves the selected recommendation ids.
func (c *Client) UpdateActionRecItems(ctx context.Context, ids []string) (Result, error) {
	var r Result
	err := c.call(ctx, ctrlActionRec, "updateActionRecommendationItems", map[string][]string{"itemIds": ids}, &r)
	return r, err
}

// DocumentForDownload fetches the generated manual for a report.
func (c *Client) DocumentForDownload(ctx context.Context, reportID string) (DocumentResult, error) {
	var r DocumentResult
	err := c.call(ctx, ctrlActionRec, "getDocumentDataForDownload", map[string]string{"reportId": reportID}, &r)
	return r, err
}

// Product is a Product2 record offered for selection.
type Product struct {
	ID               string  `json:"Id"`
	Name             string  `json:"Name"`
	ProductCode      string  `json:"ProductCode"`
	Classification   string  `json:"ProductClassification__c,omitempty"`
	ReplacementCycle string  `json:"Replacement_Cycle__c,omitempty"`
	PurchaseCompany  string  `json:"Purchase_Company__c,omitempty"`
	ShippingLeadTime string  `json:"Shipping_Lead_Time__c,omitempty"`
	Stock            int     `json:"Quantity__c"`
	Price            *Amount `json:"Price__c"`
}

// SelectedPartItem is a previously saved selection.
type SelectedPartItem struct {
	ProductID string  `json:"Product__c"`
	Quantity  int     `json:"Quantity__c"`
	ListPrice *Amount `json:"ListPrice__c"`
}

// Parts is the reply of getRecommendedParts.
type Parts struct {
	Success       bool               `json:"success"`
	Message       string             `json:"message,omitempty"`
	Products      []Product          `json:"products"`
	SelectedParts []SelectedPartItem `json:"selectedParts"`
}

// SelectedPart is one line sent to saveSelectedParts.
type SelectedPart struct {
	RiskAnalyzeReportID string  `json:"riskAnalyzeReportId"`
	ProductID           string  `json:"productId"`
	ListPrice           float64 `json:"listPrice"`
	Quantity            int     `json:"quantity"`
}

// RecommendedParts loads the products and existing selection for a report.
func (c *Client) RecommendedParts(ctx context.Context, reportID string) (Parts, error) {
	var r Parts
	err := c.call(ctx, ctrlPartSelect, "getRecommendedParts", map[string]string{"riskAnalyzeReportId": reportID}, &r)
	return r, err
}

// BaseProductCode returns the machine's product code for a report.
func (c *Client) BaseProductCode(ctx context.Context, reportID string) (string, error) {
	var code string
	err := c.call(ctx, ctrlPartSelect, "getBaseProductCode", map[string]string{"riskAnalyzeReportId": reportID}, &code)
	return code, err
}

// SaveSelectedParts replaces the saved selection.
func (c *Client) SaveSelectedParts(ctx context.Context, parts []SelectedPart) (Result, error) {
	if parts == nil {
		parts = []SelectedPart{}
	}
	var r Result
	err := c.call(ctx, ctrlPartSelect, "saveSelectedParts", map[string]any{"selectedParts": parts}, &r)
	return r, err
}

// GenerateQuote creates a service quote from the selection.
func (c *Client) GenerateQuote(ctx context.Context, reportID string, parts []SelectedPart) (Result, error) {
	if parts == nil {
		parts = []SelectedPart{}
	}
	var r Result
	err := c.call(ctx, ctrlPartSelect, "generateQuoteAndTransition", map[string]any{
		"riskAnalyzeReportId": reportID,
		"selectedParts":       parts,
	}, &r)
	return r, err
}

// LineItem is one service quote line.
type LineItem struct {
	Product struct {
		Name           string `json:"Name"`
		Classification string `json:"ProductClassification__c"`
	} `json:"ProductId__r"`
	UnitPrice Amount `json:"UnitPrice__c"`
	Quantity  Amount `json:"Quantity__c"`
}

// Quote is the reply of getServiceQuoteData.
type Quote struct {
	ServiceQuote json.RawMessage `json:"serviceQuote,omitempty"`
	LineItems    []LineItem      `json:"lineItems"`
	AccountName  string          `json:"accountName,omitempty"`
}

// User is the current Salesforce user.
type User struct {
	Name  string `json:"Name"`
	Email string `json:"Email"`
}

// ServiceQuote loads a quote and its lines.
func (c *Client) ServiceQuote(ctx context.Context, quoteID, accountID string) (Quote, error) {
	var r Quote
	err := c.call(ctx, ctrlSelfQuote, "getServiceQuoteData", map[string]string{
		"serviceQuoteId": quoteID,
		"accountId":      accountID,
	}, &r)
	return r, err
}

// CurrentUser returns the user the quote is sent to.
func (c *Client) CurrentUser(ctx context.Context) (User, error) {
	var u User
	err := c.call(ctx, ctrlSelfQuote, "getCurrentUser", nil, &u)
	return u, err
}

// SendQuote renders the quote PDF and mails it to recipient.
func (c *Client) SendQuote(ctx context.Context, quoteID, recipient string) (Result, error) {
	var r Result
	err := c.call(ctx, ctrlSelfQuote, "createPDFAndSendEmail", map[string]string{
		"serviceQuoteId": quoteID,
		"recipientEmail": recipient,
	}, &r)
	return r, err
}

// Milestone is one shipment stage. Time is nil until the stage is reached.
type Milestone struct {
	Sequence    int     `json:"Sequence__c"`
	KeyStage    string  `json:"Key_Stage__c"`
	KeyStageKor string  `json:"Key_Stage_Kor__c,omitempty"`
	Time        *string `json:"Time_ISO__c"`
}

// ProviderEvent is one carrier scan.
type ProviderEvent struct {
	EventTime      string `json:"Event_Time__c"`
	Description    string `json:"Description__c"`
	DescriptionKor string `json:"Description_Kor__c,omitempty"`
}

// Tracking is the reply of getTrackingInfo.
type Tracking struct {
	Success        bool            `json:"success"`
	ErrorMessage   string          `json:"errorMessage,omitempty"`
	CurrentStep    int             `json:"currentStep"`
	Milestones     []Milestone     `json:"listMileStone"`
	ProviderEvents []ProviderEvent `json:"listProviderEvent"`
}

// TrackingInfo loads shipment tracking for a tracking record id.
func (c *Client) TrackingInfo(ctx context.Context, trackingID string) (Tracking, error) {
	var r Tracking
	err := c.call(ctx, ctrlTracking, "getTrackingInfo", map[string]string{"recordId": trackingID}, &r)
	return r, err
}
