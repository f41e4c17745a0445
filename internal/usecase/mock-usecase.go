package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/iamvkosarev/ca-study-chat/config"
	"github.com/iamvkosarev/ca-study-chat/internal/model"
)

var (
	ErrMockFailure = errors.New("mock provider failure")
)

type cannedAnswer struct {
	keywords []string
	answer   string
}

var cannedAnswers = []cannedAnswer{
	{
		keywords: []string{"44ad", "presumptive"},
		answer: "Section 44AD is the presumptive taxation scheme for eligible businesses with turnover up to Rs 2 crore " +
			"(Rs 3 crore when cash receipts are within 5%). Income is deemed to be 8% of turnover, or 6% for digital " +
			"receipts, and the assessee need not maintain books under Section 44AA for that business.",
	},
	{
		keywords: []string{"depreciation", "schedule ii"},
		answer: "Under the Companies Act, 2013 depreciation is charged on the basis of the useful lives given in " +
			"Schedule II. A company may adopt a different useful life or residual value if it is justified by a " +
			"technical assessment and disclosed in the financial statements.",
	},
	{
		keywords: []string{"gst", "gstr"},
		answer: "GSTR-1 is due on the 11th of the following month (quarterly filers under QRMP by the 13th after the " +
			"quarter) and GSTR-3B on the 20th of the following month, or the 22nd/24th for QRMP filers depending on the " +
			"state. The annual return GSTR-9 is due by 31 December after the financial year.",
	},
	{
		keywords: []string{"sa 700", "audit report", "auditor's report"},
		answer: "SA 700 (Revised) sets out how the auditor forms an opinion and the structure of the report: title, " +
			"addressee, opinion, basis for opinion, going concern and key audit matters where applicable, other " +
			"information, responsibilities of management and the auditor, and the signature, place and date.",
	},
	{
		keywords: []string{"audit"},
		answer: "Auditing in the CA syllabus follows the Standards on Auditing issued by ICAI. Tell me which SA or " +
			"topic you are revising and I will summarise its requirements.",
	},
	{
		keywords: []string{"costing", "cost"},
		answer: "Cost and Management Accounting covers material, labour and overhead costing, marginal costing, " +
			"standard costing and budgetary control. Which method would you like to work through?",
	},
}

const defaultMockAnswer = "That is a good question for your CA preparation. Could you share a little more context, " +
	"such as the subject (Taxation, Accounting, Audit, Law, Costing or Financial Management) and the level you are " +
	"studying for?"

// MockUsecase answers with canned CA study replies after a configurable
// delay and fails with a configurable probability.
type MockUsecase struct {
	cfg    config.Mock
	random func() float64
	now    func() time.Time
}

func NewMockUsecase(cfg config.Mock) *MockUsecase {
	return &MockUsecase{
		cfg:    cfg,
		random: rand.Float64,
		now:    time.Now,
	}
}

func (m *MockUsecase) Provide(ctx context.Context, userText string) (model.Message, error) {
	if m.cfg.Delay > 0 {
		timer := time.NewTimer(m.cfg.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return model.Message{}, ctx.Err()
		case <-timer.C:
		}
	}

	if m.cfg.FailureRate > 0 && m.random() < m.cfg.FailureRate {
		return model.Message{}, ErrMockFailure
	}
	answer := mockAnswer(userText)
	if syllabus, ok := SyllabusFromContext(ctx); ok {
		answer += fmt.Sprintf(" (Checked against your syllabus %s.)", syllabus.FileName)
	}
	return model.NewMessage(model.RoleAssistant, answer, m.now()), nil
}

// NewProvider lets the mock serve as the provider of every view.
func (m *MockUsecase) NewProvider(_ HistoryFunc) ResponseProvider {
	return m
}

func mockAnswer(userText string) string {
	text := strings.ToLower(userText)
	for _, canned := range cannedAnswers {
		for _, keyword := range canned.keywords {
			if strings.Contains(text, keyword) {
				return canned.answer
			}
		}
	}
	return defaultMockAnswer
}
