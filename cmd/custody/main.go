package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/ruteri/medical-record-custody/cmd/flags"
	"github.com/ruteri/medical-record-custody/custody"
	"github.com/ruteri/medical-record-custody/interfaces"
)

var flagOwner = &cli.StringFlag{
	Name:     "owner",
	Required: true,
	Usage:    "record owner (patient) address, 40-char hex with optional 0x prefix",
}
var flagContentID = &cli.StringFlag{
	Name:     "id",
	Required: true,
	Usage:    "content id, 64-char hex",
}
var flagFile = &cli.StringFlag{
	Name:     "file",
	Required: true,
	Usage:    "file to upload",
}
var flagCategory = &cli.StringFlag{
	Name:  "category",
	Value: string(interfaces.CategoryReports),
	Usage: "record category: reports, prescriptions or scans",
}
var flagFilename = &cli.StringFlag{
	Name:  "filename",
	Usage: "display filename (defaults to the base name of --file)",
}
var flagFileType = &cli.StringFlag{
	Name:  "file-type",
	Usage: "MIME type (defaults to a guess from the file extension)",
}
var flagMeta = &cli.StringSliceFlag{
	Name:  "meta",
	Usage: "extra display metadata as key=value",
}
var flagRequester = &cli.StringFlag{
	Name:  "as",
	Usage: "requester address (defaults to the owner)",
}
var flagOut = &cli.StringFlag{
	Name:  "out",
	Usage: "write the plaintext here instead of stdout",
}
var flagNewName = &cli.StringFlag{
	Name:     "name",
	Required: true,
	Usage:    "new display filename",
}
var flagGrantee = &cli.StringFlag{
	Name:     "grantee",
	Required: true,
	Usage:    "address to grant or revoke read access",
}

const usage = `encrypts medical files per patient, keeps the ciphertext in content-addressed
storage and records each upload in an append-only ledger`

func main() {
	app := &cli.App{
		Name:  "custody",
		Usage: usage,
		Flags: flags.CommonFlags,
		Commands: []*cli.Command{
			{
				Name:  "upload",
				Usage: "encrypt and store a file, then record it in the ledger",
				Flags: []cli.Flag{flagOwner, flagFile, flagCategory, flagFilename, flagFileType, flagMeta, flags.PasswordFlag},
				Action: withNode(func(cCtx *cli.Context, n *node) error {
					req, err := uploadRequest(cCtx, n)
					if err != nil {
						return err
					}
					res, err := n.pipeline.Upload(cCtx.Context, req)
					if err != nil {
						return err
					}
					return printJSON(cCtx, map[string]any{
						"content_id":     res.ContentID,
						"encrypted_size": res.EncryptedSize,
						"original_size":  res.OriginalSize,
					})
				}),
			},
			{
				Name:  "retrieve",
				Usage: "fetch and decrypt a file",
				Flags: []cli.Flag{flagOwner, flagContentID, flagRequester, flagOut, flags.PasswordFlag},
				Action: withNode(func(cCtx *cli.Context, n *node) error {
					req, err := retrieveRequest(cCtx, n)
					if err != nil {
						return err
					}
					plaintext, err := n.pipeline.Retrieve(cCtx.Context, req)
					if err != nil {
						return err
					}
					return writeOutput(cCtx.App.Writer, cCtx.String(flagOut.Name), plaintext)
				}),
			},
			{
				Name:  "delete",
				Usage: "unpin a stored blob; ledger entries are kept",
				Flags: []cli.Flag{flagContentID},
				Action: withNode(func(cCtx *cli.Context, n *node) error {
					id, err := interfaces.NewContentIDFromHex(cCtx.String(flagContentID.Name))
					if err != nil {
						return err
					}
					return n.pipeline.Delete(cCtx.Context, id)
				}),
			},
			{
				Name:  "rename",
				Usage: "store a file under a new display name and unpin the old blob",
				Flags: []cli.Flag{flagOwner, flagContentID, flagNewName},
				Action: withNode(func(cCtx *cli.Context, n *node) error {
					owner, err := interfaces.NewAddressFromHex(cCtx.String(flagOwner.Name))
					if err != nil {
						return err
					}
					id, err := interfaces.NewContentIDFromHex(cCtx.String(flagContentID.Name))
					if err != nil {
						return err
					}
					res, err := n.pipeline.Rename(cCtx.Context, custody.RenameRequest{
						ContentID:   id,
						NewFilename: cCtx.String(flagNewName.Name),
						Owner:       owner,
					})
					if err != nil {
						return err
					}
					return printJSON(cCtx, map[string]any{
						"old_content_id": res.OldContentID,
						"new_content_id": res.NewContentID,
					})
				}),
			},
			{
				Name:  "list",
				Usage: "list an owner's ledger entries",
				Flags: []cli.Flag{flagOwner},
				Action: withNode(func(cCtx *cli.Context, n *node) error {
					owner, err := interfaces.NewAddressFromHex(cCtx.String(flagOwner.Name))
					if err != nil {
						return err
					}
					entries, err := n.pipeline.List(cCtx.Context, owner)
					if err != nil {
						return err
					}
					return printJSON(cCtx, entries)
				}),
			},
			{
				Name:  "grant",
				Usage: "allow grantee to read owner's records",
				Flags: []cli.Flag{flagOwner, flagGrantee},
				Action: withNode(func(cCtx *cli.Context, n *node) error {
					owner, grantee, err := ownerAndGrantee(cCtx)
					if err != nil {
						return err
					}
					return n.admin.Grant(cCtx.Context, owner, grantee)
				}),
			},
			{
				Name:  "revoke",
				Usage: "withdraw grantee's read access",
				Flags: []cli.Flag{flagOwner, flagGrantee},
				Action: withNode(func(cCtx *cli.Context, n *node) error {
					owner, grantee, err := ownerAndGrantee(cCtx)
					if err != nil {
						return err
					}
					return n.admin.Revoke(cCtx.Context, owner, grantee)
				}),
			},
			{
				Name:  "history",
				Usage: "show audited accesses to owner's records",
				Flags: []cli.Flag{flagOwner},
				Action: withNode(func(cCtx *cli.Context, n *node) error {
					owner, err := interfaces.NewAddressFromHex(cCtx.String(flagOwner.Name))
					if err != nil {
						return err
					}
					events, err := n.admin.AccessHistory(cCtx.Context, owner)
					if err != nil {
						return err
					}
					return printJSON(cCtx, events)
				}),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// withNode wires the configured node around a command action.
func withNode(action func(cCtx *cli.Context, n *node) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		cfg, err := flags.LoadConfig(cCtx)
		if err != nil {
			return err
		}
		logger := flags.SetupLogger(cCtx, cfg.Log)

		n, err := newNode(cfg, logger)
		if err != nil {
			return err
		}
		defer n.Close()

		return action(cCtx, n)
	}
}

func uploadRequest(cCtx *cli.Context, n *node) (custody.UploadRequest, error) {
	owner, err := interfaces.NewAddressFromHex(cCtx.String(flagOwner.Name))
	if err != nil {
		return custody.UploadRequest{}, err
	}
	category, err := interfaces.ParseCategory(cCtx.String(flagCategory.Name))
	if err != nil {
		return custody.UploadRequest{}, err
	}
	extra, err := parseMeta(cCtx.StringSlice(flagMeta.Name))
	if err != nil {
		return custody.UploadRequest{}, err
	}

	path := cCtx.String(flagFile.Name)
	data, err := os.ReadFile(path)
	if err != nil {
		return custody.UploadRequest{}, fmt.Errorf("read %s: %w", path, err)
	}

	filename := cCtx.String(flagFilename.Name)
	if filename == "" {
		filename = filepath.Base(path)
	}
	fileType := cCtx.String(flagFileType.Name)
	if fileType == "" {
		fileType = guessFileType(filename)
	}

	secret, err := resolveSecret(n.secretMode, cCtx.String(flags.PasswordFlag.Name), promptPassword)
	if err != nil {
		return custody.UploadRequest{}, err
	}

	return custody.UploadRequest{
		Data:     data,
		Owner:    owner,
		Secret:   secret,
		Category: category,
		Filename: filename,
		FileType: fileType,
		Extra:    extra,
	}, nil
}

func retrieveRequest(cCtx *cli.Context, n *node) (custody.RetrieveRequest, error) {
	owner, err := interfaces.NewAddressFromHex(cCtx.String(flagOwner.Name))
	if err != nil {
		return custody.RetrieveRequest{}, err
	}
	id, err := interfaces.NewContentIDFromHex(cCtx.String(flagContentID.Name))
	if err != nil {
		return custody.RetrieveRequest{}, err
	}

	requester := owner
	if as := cCtx.String(flagRequester.Name); as != "" {
		requester, err = interfaces.NewAddressFromHex(as)
		if err != nil {
			return custody.RetrieveRequest{}, fmt.Errorf("requester: %w", err)
		}
	}

	secret, err := resolveSecret(n.secretMode, cCtx.String(flags.PasswordFlag.Name), promptPassword)
	if err != nil {
		return custody.RetrieveRequest{}, err
	}

	return custody.RetrieveRequest{
		ContentID: id,
		Owner:     owner,
		Requester: requester,
		Secret:    secret,
	}, nil
}

func ownerAndGrantee(cCtx *cli.Context) (interfaces.Address, interfaces.Address, error) {
	owner, err := interfaces.NewAddressFromHex(cCtx.String(flagOwner.Name))
	if err != nil {
		return interfaces.Address{}, interfaces.Address{}, err
	}
	grantee, err := interfaces.NewAddressFromHex(cCtx.String(flagGrantee.Name))
	if err != nil {
		return interfaces.Address{}, interfaces.Address{}, fmt.Errorf("grantee: %w", err)
	}
	return owner, grantee, nil
}

func printJSON(cCtx *cli.Context, v any) error {
	enc := json.NewEncoder(cCtx.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
