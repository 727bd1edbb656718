package tests

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/masomo-billing/apps/api/echo"
	"github.com/trezcool/masomo-billing/core/subscription"
	"github.com/trezcool/masomo-billing/services/email"
)

func mockNow(t *testing.T, now time.Time) {
	subscription.NowFunc = func() time.Time { return now }
	t.Cleanup(func() { subscription.NowFunc = time.Now })
}

func Test_subscriptionApi_lifecycle(t *testing.T) {
	f := setup(t, nil)
	mockNow(t, time.Date(2024, 2, 15, 9, 0, 0, 0, time.UTC))
	emailsvc.ResetSentMessages()

	adminToken := f.adminToken(t)
	studToken := f.studentToken(t, "stud-a")
	forbidden := marchallObj(t, httpErr{Error: "permission denied"})

	// submit
	req, rec := newAuthRequest(http.MethodPost, "/v1/subscriptions/stud-a", studToken, []byte(`{"confirmation_id": " TX-001 "}`))
	f.app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var view subscription.View
	unmarchallObj(t, rec, &view)
	assert.Equal(t, "TX-001", view.ConfirmationID)
	assert.Equal(t, subscription.StatusPending, view.EffectiveStatus)
	assert.Equal(t, "Term 1", view.TermLabel)
	assert.Equal(t, 1, view.Generation)
	assert.Equal(t, time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC).Format("2006-01-02"), view.EndDate.Format("2006-01-02"))

	notPending := marchallObj(t, httpErr{Error: subscription.ErrNotPending.Error(), Code: "NotPending"})
	tests := []httpTest{
		{
			name: "submit for someone else", method: http.MethodPost, path: "/v1/subscriptions/stud-b", token: studToken,
			body: []byte(`{"confirmation_id": "TX-002"}`), wantCode: http.StatusForbidden, wantData: forbidden,
		},
		{
			name: "submit again", method: http.MethodPost, path: "/v1/subscriptions/stud-a", token: studToken,
			body: []byte(`{"confirmation_id": "TX-002"}`), wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: subscription.ErrAlreadyPending.Error(), Code: "AlreadyPending"}),
		},
		{
			name: "blank confirmation", method: http.MethodPost, path: "/v1/subscriptions/stud-b", token: adminToken,
			body: []byte(`{"confirmation_id": "   "}`), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"confirmation_id": "this field is required"}),
		},
		{
			name: "not entitled while pending", path: "/v1/subscriptions/stud-a/entitled", token: studToken,
			wantCode: http.StatusOK, wantData: marchallObj(t, EntitlementResponse{StudentID: "stud-a", Entitled: false}),
		},
		{
			name: "feature locked", path: "/v1/features/reports", token: studToken, wantCode: http.StatusPaymentRequired,
			wantData: marchallObj(t, httpErr{Error: "an approved subscription is required"}),
		},
		{name: "students cannot approve", method: http.MethodPost, path: "/v1/subscriptions/stud-a/approve", token: studToken, wantCode: http.StatusForbidden, wantData: forbidden},
		{name: "approve without submission", method: http.MethodPost, path: "/v1/subscriptions/stud-b/approve", token: adminToken, wantCode: http.StatusNotFound, wantData: notPending},
		{
			name: "no subscription", path: "/v1/subscriptions/stud-b", token: adminToken, wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: subscription.ErrNotFound.Error(), Code: "NoSubscription"}),
		},
		{name: "pending list: admin required", path: "/v1/subscriptions?status=pending", token: studToken, wantCode: http.StatusForbidden, wantData: forbidden},
		{
			name: "pending list: other status", path: "/v1/subscriptions?status=approved", token: adminToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"status": "only pending subscriptions can be listed"}),
		},
		{name: "pending list", path: "/v1/subscriptions?status=pending", token: adminToken, wantCode: http.StatusOK, wantData: marchallObj(t, []subscription.View{view})},
	}
	runHTTPTests(t, f.app, tests)

	// approve
	req, rec = newAuthRequest(http.MethodPost, "/v1/subscriptions/stud-a/approve", adminToken)
	f.app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unmarchallObj(t, rec, &view)
	assert.Equal(t, subscription.StatusApproved, view.EffectiveStatus)
	assert.Equal(t, "admin-1", view.ReviewedBy.String)
	assert.True(t, view.ApprovedAt.Valid)

	sent := emailsvc.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "amani@test.cd", sent[0].To[0].Address)

	tests = []httpTest{
		{
			name: "entitled", path: "/v1/subscriptions/stud-a/entitled", token: studToken,
			wantCode: http.StatusOK, wantData: marchallObj(t, EntitlementResponse{StudentID: "stud-a", Entitled: true}),
		},
		{
			name: "feature unlocked", path: "/v1/features/reports", token: studToken,
			wantCode: http.StatusOK, wantData: []byte(`{"feature": "reports", "granted": true}`),
		},
		{name: "current", path: "/v1/subscriptions/stud-a", token: studToken, wantCode: http.StatusOK, wantData: marchallObj(t, view)},
		{name: "history", path: "/v1/subscriptions/stud-a/history", token: studToken, wantCode: http.StatusOK, wantData: marchallObj(t, []subscription.View{view})},
		{name: "approve twice", method: http.MethodPost, path: "/v1/subscriptions/stud-a/approve", token: adminToken, wantCode: http.StatusNotFound, wantData: notPending},
		{name: "reject approved", method: http.MethodPost, path: "/v1/subscriptions/stud-a/reject", token: adminToken, wantCode: http.StatusNotFound, wantData: notPending},
		{name: "pending list is empty", path: "/v1/subscriptions?status=pending", token: adminToken, wantCode: http.StatusOK, wantData: []byte(`[]`)},
	}
	runHTTPTests(t, f.app, tests)

	// the term is over: access lapses without any write
	mockNow(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	runHTTPTests(t, f.app, []httpTest{
		{
			name: "expired", path: "/v1/subscriptions/stud-a/entitled", token: studToken,
			wantCode: http.StatusOK, wantData: marchallObj(t, EntitlementResponse{StudentID: "stud-a", Entitled: false}),
		},
		{
			name: "feature locked again", path: "/v1/features/reports", token: studToken, wantCode: http.StatusPaymentRequired,
			wantData: marchallObj(t, httpErr{Error: "an approved subscription is required"}),
		},
	})
	stored, err := f.subRepo.Current(context.Background(), "stud-a")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusApproved, stored.Status)
}

func Test_subscriptionApi_reject(t *testing.T) {
	f := setup(t, nil)
	mockNow(t, time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC))
	adminToken := f.adminToken(t)

	_, err := f.subSvc.Submit(context.Background(), "stud-b", subscription.NewSubscription{ConfirmationID: "TX-9"})
	require.NoError(t, err)

	req, rec := newAuthRequest(http.MethodPost, "/v1/subscriptions/stud-b/reject", adminToken)
	f.app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var view subscription.View
	unmarchallObj(t, rec, &view)
	assert.Equal(t, subscription.StatusRejected, view.EffectiveStatus)
	assert.False(t, view.ApprovedAt.Valid)

	// rejected students may submit again
	req, rec = newAuthRequest(http.MethodPost, "/v1/subscriptions/stud-b", f.studentToken(t, "stud-b"), []byte(`{"confirmation_id": "TX-10"}`))
	f.app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	unmarchallObj(t, rec, &view)
	assert.Equal(t, 2, view.Generation)
	assert.Equal(t, "Term 2", view.TermLabel)
}
