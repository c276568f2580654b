package worker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"MailBlast/internal/csvparser"
	"MailBlast/internal/email"
	"MailBlast/internal/models"
)

func TestSupervisor_HeaderErrorCreatesNoJob(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	sup := NewSupervisor(context.Background(), store, zap.NewNop(), Options{})

	_, err := sup.Submit(context.Background(), Request{
		Subject:     "Hello",
		SenderEmail: "sender@x.com",
		CSV:         strings.NewReader("Name,Address\nAlice,somewhere\n"),
	})

	var resErr *csvparser.ResolutionError
	require.ErrorAs(t, err, &resErr)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Empty(t, store.jobs)
}

func TestSupervisor_SubmitRunsJobToTerminalStatus(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := NewSupervisor(ctx, store, zap.NewNop(), Options{
		SendDelay:   time.Millisecond,
		DialTimeout: 300 * time.Millisecond,
	})

	id, err := sup.Submit(context.Background(), Request{
		Subject:          "Hello",
		SenderEmail:      "sender@x.com",
		CSVFilename:      "list.csv",
		CSV:              strings.NewReader("FirstName,Email\nAlice,alice@x.com\n"),
		TemplateFilename: "welcome.html",
		TemplateSource:   "<p>Hi {{.first_name}}</p>",
		SMTP: email.Config{
			// nothing listens here: the dial fails and the job ends
			// without a single attempted send
			Host: "127.0.0.1",
			Port: 1,
		},
	})
	require.NoError(t, err)

	require.Contains(t, sup.Active(), id)

	require.Eventually(t, func() bool {
		return store.job(t, id).Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	sup.Wait()
	require.Empty(t, sup.Active())

	job := store.job(t, id)
	require.Equal(t, models.Errored(models.ReasonConnectFailed), job.Status)
	require.Equal(t, "list.csv", job.CSVFilename)
	require.Equal(t, "welcome.html", job.TemplateFilename)
	require.Equal(t, 0, job.SentCount)
	require.NotNil(t, job.EndTime)
}
