package recon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendora-ops/vendora-recon/internal/shared"
)

func validImportRow(order string) ImportRow {
	return ImportRow{
		MachineCode:   "VM-7",
		SoldAt:        time.Date(2025, 2, 10, 14, 30, 0, 0, time.UTC),
		Amount:        decimal.NewFromInt(12000),
		PaymentMethod: "cash",
		OrderNumber:   order,
	}
}

func TestImportSalesAllValid(t *testing.T) {
	repo := newMockRepository()
	im := NewImporter(repo, nil)

	batch, err := im.ImportSales(context.Background(), ImportInput{
		OrgID:   testOrg,
		Source:  ImportSourceAPI,
		Rows:    []ImportRow{validImportRow("A-1"), validImportRow("A-2"), validImportRow("A-3")},
		ActorID: testActor,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, batch.ImportedCount)
	assert.Equal(t, 0, batch.SkippedCount)
	assert.Empty(t, batch.Errors)
	assert.Nil(t, batch.Filename)
	assert.Len(t, repo.sales, 3)
	for _, sale := range repo.sales {
		assert.Equal(t, batch.ID, sale.ImportBatchID)
		assert.Equal(t, 1, sale.Quantity)
	}
	require.Len(t, repo.batches, 1)
	assert.Equal(t, 3, repo.batches[batch.ID].ImportedCount)
}

func TestImportSalesPartialFailure(t *testing.T) {
	repo := newMockRepository()
	im := NewImporter(repo, nil)

	noMachine := validImportRow("A-2")
	noMachine.MachineCode = "  "
	badAmount := validImportRow("A-4")
	badAmount.Amount = decimal.NewFromInt(-5)

	batch, err := im.ImportSales(context.Background(), ImportInput{
		OrgID:   testOrg,
		Source:  ImportSourceExcel,
		Rows:    []ImportRow{validImportRow("A-1"), noMachine, validImportRow("A-3"), badAmount},
		ActorID: testActor,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, batch.ImportedCount)
	assert.Equal(t, 2, batch.SkippedCount)
	require.Len(t, batch.Errors, 2)
	assert.Equal(t, 2, batch.Errors[0].Row)
	assert.Equal(t, "machine code required", batch.Errors[0].Message)
	assert.Equal(t, 4, batch.Errors[1].Row)
	assert.Equal(t, "amount must be positive", batch.Errors[1].Message)
}

func TestImportSalesSkipsDuplicates(t *testing.T) {
	repo := newMockRepository()
	im := NewImporter(repo, nil)

	row := validImportRow("A-1")
	batch, err := im.ImportSales(context.Background(), ImportInput{
		OrgID:   testOrg,
		Source:  ImportSourceCSV,
		Rows:    []ImportRow{row, row},
		ActorID: testActor,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, batch.ImportedCount)
	assert.Equal(t, 1, batch.SkippedCount)
	require.Len(t, batch.Errors, 1)
	assert.Equal(t, 2, batch.Errors[0].Row)
	assert.Equal(t, "duplicate sale", batch.Errors[0].Message)
}

func TestImportSalesCountsUpstreamRejects(t *testing.T) {
	repo := newMockRepository()
	im := NewImporter(repo, nil)

	batch, err := im.ImportSales(context.Background(), ImportInput{
		OrgID:    testOrg,
		Source:   ImportSourceExcel,
		Filename: "sales.xlsx",
		Rows:     []ImportRow{validImportRow("A-1")},
		Rejected: []ImportRowError{{Row: 3, Message: "unparseable timestamp"}},
		ActorID:  testActor,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, batch.ImportedCount)
	assert.Equal(t, 1, batch.SkippedCount)
	require.Len(t, batch.Errors, 1)
	assert.Equal(t, "unparseable timestamp", batch.Errors[0].Message)
	require.NotNil(t, batch.Filename)
	assert.Equal(t, "sales.xlsx", *batch.Filename)
}

func TestImportSalesRejectsEmptyInput(t *testing.T) {
	im := NewImporter(newMockRepository(), nil)

	_, err := im.ImportSales(context.Background(), ImportInput{
		OrgID:   testOrg,
		Source:  ImportSourceAPI,
		ActorID: testActor,
	})
	assert.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func TestImportSalesRejectsUnknownSource(t *testing.T) {
	im := NewImporter(newMockRepository(), nil)

	_, err := im.ImportSales(context.Background(), ImportInput{
		OrgID:   testOrg,
		Source:  ImportSource("ftp"),
		Rows:    []ImportRow{validImportRow("A-1")},
		ActorID: testActor,
	})
	assert.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func TestImportSalesAbortsOnStorageError(t *testing.T) {
	repo := newMockRepository()
	repo.insertSaleErr = errors.New("connection reset")
	im := NewImporter(repo, nil)

	_, err := im.ImportSales(context.Background(), ImportInput{
		OrgID:   testOrg,
		Source:  ImportSourceAPI,
		Rows:    []ImportRow{validImportRow("A-1")},
		ActorID: testActor,
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, shared.ErrInvalidArgument)
	// The batch row precedes the sale rows, so even an aborted import
	// leaves no sale referencing a missing batch.
	assert.Len(t, repo.batches, 1)
}
